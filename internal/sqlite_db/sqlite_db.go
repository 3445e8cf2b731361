package sqlite_db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/glebarez/sqlite" // Pure Go SQLite driver
	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
)

var schema = []string{`CREATE TABLE IF NOT EXISTS runs (
	"id" TEXT PRIMARY KEY,
	"mode" TEXT NOT NULL,
	"params" TEXT NOT NULL,
	"host" TEXT NOT NULL,
	"status" TEXT NOT NULL DEFAULT 'running',
	"started_at" TEXT NOT NULL,
	"finished_at" TEXT
);`, `CREATE TABLE IF NOT EXISTS epochs (
	"run_id" TEXT NOT NULL REFERENCES runs(id),
	"epoch" INTEGER NOT NULL,
	"mean_loss" REAL NOT NULL,
	"batches" INTEGER NOT NULL,
	"recorded_at" TEXT NOT NULL,
	PRIMARY KEY (run_id, epoch)
);`, `CREATE TABLE IF NOT EXISTS evaluations (
	"run_id" TEXT NOT NULL REFERENCES runs(id),
	"batch" INTEGER NOT NULL,
	"samples" INTEGER NOT NULL,
	"loss" REAL NOT NULL,
	"accuracy" REAL NOT NULL,
	"confusion_accuracy" REAL NOT NULL,
	PRIMARY KEY (run_id, batch)
);`}

// InitDB initializes an SQLite database at the given path.
// It creates the database file and its directory if they don't exist and sets up the
// run ledger tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	dir := filepath.Dir(dataSourceName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// The driver name for github.com/glebarez/sqlite is "sqlite" or "sqlite3"
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create ledger tables: %w", err)
		}
	}

	log.Printf("SQLite database initialized at %s", dataSourceName)
	return db, nil
}

// Ledger records training and test runs.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the database at path and returns a ledger over it.
func Open(path string) (*Ledger, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return NewLedger(db), nil
}

// NewLedger wraps an initialized database.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) Close() error { return l.db.Close() }

// Timestamps keep a fixed width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(timeLayout)
}

// Host describes the machine a run executes on.
func Host() string {
	return fmt.Sprintf("%s (%d cores, %s/%s)", cpuid.CPU.BrandName, runtime.NumCPU(), runtime.GOOS, runtime.GOARCH)
}

// StartRun inserts a new run and returns its ID.
func (l *Ledger) StartRun(mode string, params map[string]string) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode run parameters: %w", err)
	}
	id := uuid.NewString()
	insertSQL := `INSERT INTO runs(id, mode, params, host, started_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := l.db.Exec(insertSQL, id, mode, string(encoded), Host(), l.timestamp()); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// RecordEpoch stores the mean loss of one training epoch.
func (l *Ledger) RecordEpoch(runID string, epoch int, meanLoss float64, batches int) error {
	insertSQL := `INSERT INTO epochs(run_id, epoch, mean_loss, batches, recorded_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := l.db.Exec(insertSQL, runID, epoch, meanLoss, batches, l.timestamp()); err != nil {
		return fmt.Errorf("failed to insert epoch: %w", err)
	}
	return nil
}

// RecordEvaluation stores the results of one evaluated batch.
func (l *Ledger) RecordEvaluation(runID string, batch, samples int, loss, accuracy, confusionAccuracy float64) error {
	insertSQL := `INSERT INTO evaluations(run_id, batch, samples, loss, accuracy, confusion_accuracy) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := l.db.Exec(insertSQL, runID, batch, samples, loss, accuracy, confusionAccuracy); err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (l *Ledger) FinishRun(runID, status string) error {
	updateSQL := `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`
	result, err := l.db.Exec(updateSQL, status, l.timestamp(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no run with id %s", runID)
	}
	return nil
}

// Run is one row of the runs table.
type Run struct {
	ID         string
	Mode       string
	Params     map[string]string
	Host       string
	Status     string
	StartedAt  string
	FinishedAt sql.NullString
}

// Runs returns all runs, oldest first.
func (l *Ledger) Runs() ([]Run, error) {
	query := `SELECT id, mode, params, host, status, started_at, finished_at FROM runs ORDER BY started_at ASC, rowid ASC`
	rows, err := l.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var params string
		if err := rows.Scan(&r.ID, &r.Mode, &params, &r.Host, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("run %s has malformed parameters: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Epoch is one row of the epochs table.
type Epoch struct {
	Epoch    int
	MeanLoss float64
	Batches  int
}

// Epochs returns the recorded epochs of a run in order.
func (l *Ledger) Epochs(runID string) ([]Epoch, error) {
	query := `SELECT epoch, mean_loss, batches FROM epochs WHERE run_id = ? ORDER BY epoch ASC`
	rows, err := l.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.MeanLoss, &e.Batches); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// Evaluation is one row of the evaluations table.
type Evaluation struct {
	Batch             int
	Samples           int
	Loss              float64
	Accuracy          float64
	ConfusionAccuracy float64
}

// Evaluations returns the evaluated batches of a run in index order.
func (l *Ledger) Evaluations(runID string) ([]Evaluation, error) {
	query := `SELECT batch, samples, loss, accuracy, confusion_accuracy FROM evaluations WHERE run_id = ? ORDER BY batch ASC`
	rows, err := l.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []Evaluation
	for rows.Next() {
		var e Evaluation
		if err := rows.Scan(&e.Batch, &e.Samples, &e.Loss, &e.Accuracy, &e.ConfusionAccuracy); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}
