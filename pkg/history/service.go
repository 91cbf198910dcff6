// History keeps the most recent PM readings for charts and summaries.
// It lives in an in-memory SQLite database and is gone when the process exits.
package history

import (
	"database/sql"
	"fmt"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS pm_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp  INTEGER NOT NULL,
		pm1        REAL NOT NULL,
		pm25       REAL NOT NULL,
		pm10       REAL NOT NULL,
		avg_window TEXT NOT NULL DEFAULT ''
	)
`

type Store struct {
	db        *sql.DB
	maxPoints int
	log       *logrus.Logger
}

func Open(maxPoints int, log *logrus.Logger) (*Store, error) {
	if maxPoints <= 0 {
		return nil, fmt.Errorf("history max points must be positive, got %d", maxPoints)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db, maxPoints: maxPoints, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores p and drops everything older than the newest maxPoints readings.
func (s *Store) Add(p Point) error {
	_, err := s.db.Exec(
		"INSERT INTO pm_history (timestamp, pm1, pm25, pm10, avg_window) "+
			"VALUES (?, ?, ?, ?, ?)",
		p.Timestamp,
		p.PM1,
		p.PM25,
		p.PM10,
		p.Window,
	)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		DELETE FROM pm_history
		WHERE id NOT IN (
			SELECT id FROM pm_history ORDER BY id DESC LIMIT ?
		)
	`, s.maxPoints)
	return err
}

// Recent returns up to n points, oldest first. n <= 0 returns everything retained.
func (s *Store) Recent(n int) ([]Point, error) {
	if n <= 0 {
		n = s.maxPoints
	}

	query := `
		SELECT timestamp, pm1, pm25, pm10, avg_window FROM (
			SELECT id, timestamp, pm1, pm25, pm10, avg_window
			FROM pm_history
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := s.db.Query(query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]Point, 0, n)
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.PM1, &p.PM25, &p.PM10, &p.Window); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func (s *Store) Summary() (Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(AVG(pm25), 0),
			COALESCE(MIN(pm25), 0),
			COALESCE(MAX(pm25), 0),
			COALESCE(MIN(timestamp), 0),
			COALESCE(MAX(timestamp), 0)
		FROM pm_history
	`

	var sum Summary
	err := s.db.QueryRow(query).Scan(&sum.Count, &sum.AvgPM25, &sum.MinPM25, &sum.MaxPM25, &sum.From, &sum.To)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// HandleData records PM replies seen on the data topic.
func (s *Store) HandleData(ev eventbus.DataEvent) {
	if ev.Frame.Kind != protocol.KindStructured {
		return
	}
	resp := ev.Frame.Response
	if resp.Info != protocol.InfoPM || !resp.IsOK() {
		return
	}
	mass, ok := resp.PM.Mass()
	if !ok {
		return
	}

	err := s.Add(Point{
		Timestamp: ev.ReceivedAt.UnixMilli(),
		PM1:       mass.PM1,
		PM25:      mass.PM25,
		PM10:      mass.PM10,
		Window:    resp.Avg,
	})
	if err != nil && s.log != nil {
		s.log.Errorf("Failed to store PM history point: %v", err)
	}
}
