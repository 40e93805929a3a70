package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/metrics"
)

// PostgresStore is a durable implementation of the tx.Store contract: the
// in-memory MemStore's two maps, reshaped into a two-table schema —
// block_content (the append-only byte sink) and tx_index (hash -> ptr).
// At-most-once insertion is enforced with a unique constraint on tx_hash
// rather than an in-process mutex, since writers may be separate processes.
type PostgresStore struct {
	conn *sql.DB
}

// Config mirrors the teacher's database configuration shape: a JSON file on
// disk, overridable by environment variables for container deployments.
type Config struct {
	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
}

// LoadConfig reads a JSON config file, then applies DB_HOST/DB_PORT/
// DB_USER/DB_PASSWORD/DB_NAME environment overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &cfg.DBPort); err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %s", v)
		}
	}

	return &cfg, nil
}

// NewPostgresStore opens a connection, pings it, and ensures the schema
// exists.
func NewPostgresStore(host string, port int, user, password, dbname string) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{conn: conn}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromConfig is the Config-driven equivalent of
// NewPostgresStore.
func NewPostgresStoreFromConfig(cfg *Config) (*PostgresStore, error) {
	return NewPostgresStore(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
}

func (s *PostgresStore) ensureSchema() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS block_content (
			ptr BIGSERIAL PRIMARY KEY,
			raw BYTEA NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tx_index (
			tx_hash BYTEA PRIMARY KEY,
			ptr     BIGINT NOT NULL REFERENCES block_content(ptr)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// Lookup returns the pointer stored under h, if any.
func (s *PostgresStore) Lookup(h hash.Hash32) (uint64, bool) {
	var ptr uint64
	err := s.conn.QueryRow(`SELECT ptr FROM tx_index WHERE tx_hash = $1`, h.Bytes()).Scan(&ptr)
	if err != nil {
		return 0, false
	}
	return ptr, true
}

// Read returns the bytes written at ptr.
func (s *PostgresStore) Read(ptr uint64) ([]byte, error) {
	var raw []byte
	err := s.conn.QueryRow(`SELECT raw FROM block_content WHERE ptr = $1`, ptr).Scan(&raw)
	if err == sql.ErrNoRows {
		metrics.StoreErrors.WithLabelValues("read").Inc()
		return nil, ErrPointerOutOfRange
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("read").Inc()
		return nil, err
	}
	return raw, nil
}

// InsertIfAbsent atomically inserts raw under h unless it is already
// present. The tx_index unique constraint on tx_hash is what actually
// arbitrates concurrent writers across processes; the ON CONFLICT DO
// NOTHING clause lets the losing writer discover this without an error
// round-trip, then re-read the winner's pointer.
func (s *PostgresStore) InsertIfAbsent(h hash.Hash32, raw []byte) (uint64, bool, error) {
	dbTx, err := s.conn.Begin()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, false, err
	}
	defer dbTx.Rollback()

	var ptr uint64
	if err := dbTx.QueryRow(
		`INSERT INTO block_content (raw) VALUES ($1) RETURNING ptr`, raw,
	).Scan(&ptr); err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, false, err
	}

	res, err := dbTx.Exec(
		`INSERT INTO tx_index (tx_hash, ptr) VALUES ($1, $2) ON CONFLICT (tx_hash) DO NOTHING`,
		h.Bytes(), ptr)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, false, err
	}
	if rows == 0 {
		// Another writer's tx_index row won the race; this dbTx's
		// block_content insert is abandoned by the deferred Rollback.
		existingPtr, ok := s.Lookup(h)
		if !ok {
			metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
			return 0, false, fmt.Errorf("store: lost the insert race for %s but found no winner", h)
		}
		return existingPtr, true, nil
	}

	if err := dbTx.Commit(); err != nil {
		metrics.StoreErrors.WithLabelValues("insert_if_absent").Inc()
		return 0, false, err
	}
	metrics.StoreSize.Inc()
	return ptr, false, nil
}
