package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id         TEXT NOT NULL UNIQUE,
		subject        TEXT DEFAULT '',
		grade_level    TEXT DEFAULT '',
		utterances     INTEGER NOT NULL,
		pattern_name   TEXT NOT NULL,
		similarity     REAL NOT NULL,
		complexity     REAL NOT NULL,
		result_json    TEXT NOT NULL,
		processing_ms  INTEGER NOT NULL,
		llm_provider   TEXT DEFAULT '',
		llm_model      TEXT DEFAULT '',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);
	CREATE INDEX IF NOT EXISTS idx_evaluations_pattern ON evaluations(pattern_name);

	CREATE TABLE IF NOT EXISTS utterance_classifications (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL,
		utterance_id  INTEGER NOT NULL,
		stage         TEXT NOT NULL,
		contexts      TEXT NOT NULL,
		level         TEXT NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_uc_run ON utterance_classifications(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}

// InsertEvaluation stores the full result document plus the queryable
// summary columns the digest reads.
func InsertEvaluation(db *sql.DB, result *EvaluationResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling evaluation: %w", err)
	}

	subject, grade := "", ""
	if result.Lesson != nil {
		subject, grade = result.Lesson.Subject, result.Lesson.GradeLevel
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO evaluations (run_id, subject, grade_level, utterances, pattern_name, similarity, complexity, result_json, processing_ms, llm_provider, llm_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, subject, grade, result.UtteranceCnt,
		result.Pattern.PatternName, result.Pattern.Similarity,
		result.Matrix.Statistics.Complexity.Overall,
		string(doc), result.ProcessingMs, result.LLMProvider, result.LLMModel,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}

	for _, point := range result.Matrix.Data {
		contexts, err := json.Marshal(point.Contexts)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO utterance_classifications (run_id, utterance_id, stage, contexts, level)
			VALUES (?, ?, ?, ?, ?)`,
			result.RunID, point.UtteranceID, point.Stage, string(contexts), point.Level,
		)
		if err != nil {
			return fmt.Errorf("inserting classification: %w", err)
		}
	}
	return tx.Commit()
}

// GetEvaluation loads a stored result document by run id.
func GetEvaluation(db *sql.DB, runID string) (*EvaluationResult, error) {
	var doc string
	err := db.QueryRow(`SELECT result_json FROM evaluations WHERE run_id = ?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation '%s' not found", runID)
	}
	if err != nil {
		return nil, err
	}
	var result EvaluationResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("parsing stored evaluation: %w", err)
	}
	return &result, nil
}

// EvaluationSummaryRow is the digest's view of one stored evaluation.
type EvaluationSummaryRow struct {
	RunID       string
	Subject     string
	Utterances  int
	PatternName string
	Similarity  float64
	Complexity  float64
	CreatedAt   time.Time
}

// RecentEvaluations returns summary rows created at or after the cutoff,
// newest first.
func RecentEvaluations(db *sql.DB, since time.Time) ([]EvaluationSummaryRow, error) {
	rows, err := db.Query(`
		SELECT run_id, subject, utterances, pattern_name, similarity, complexity, created_at
		FROM evaluations
		WHERE created_at >= ?
		ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationSummaryRow
	for rows.Next() {
		var row EvaluationSummaryRow
		if err := rows.Scan(&row.RunID, &row.Subject, &row.Utterances, &row.PatternName, &row.Similarity, &row.Complexity, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
