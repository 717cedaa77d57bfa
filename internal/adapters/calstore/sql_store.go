package calstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// SQLStore keeps blobs in a Postgres table keyed by resource name:
//
//	CREATE TABLE calibration_blobs (resource TEXT PRIMARY KEY, blob BYTEA NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())
type SQLStore struct {
	db        *sql.DB
	tableName string
}

func NewSQLStore(db *sql.DB, table string) *SQLStore {
	return &SQLStore{db: db, tableName: table}
}

func (s *SQLStore) Load(resource string) (domain.CalibrationBlob, error) {
	var (
		raw  []byte
		blob domain.CalibrationBlob
	)
	err := s.db.QueryRow("SELECT blob FROM "+s.tableName+" WHERE resource = $1", resource).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return blob, nil
	}
	if err != nil {
		return blob, s.persistErr("Load", resource, err)
	}
	if err := blob.UnmarshalBinary(raw); err != nil {
		return domain.CalibrationBlob{}, s.persistErr("Load", resource, err)
	}
	return blob, nil
}

func (s *SQLStore) Save(resource string, blob domain.CalibrationBlob) error {
	raw, err := blob.MarshalBinary()
	if err != nil {
		return errs.WrapInvalid(err, "calstore", "Save", "encode "+resource)
	}
	_, err = s.db.Exec("INSERT INTO "+s.tableName+" (resource, blob) VALUES ($1,$2)"+
		" ON CONFLICT (resource) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()", resource, raw)
	if err != nil {
		return s.persistErr("Save", resource, err)
	}
	return nil
}

func (s *SQLStore) Clear(resource string) error {
	if _, err := s.db.Exec("DELETE FROM "+s.tableName+" WHERE resource = $1", resource); err != nil {
		return s.persistErr("Clear", resource, err)
	}
	return nil
}

func (s *SQLStore) persistErr(op, resource string, err error) error {
	return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrPersistence, err), "calstore", op, resource)
}

var _ ports.CalibrationStore = (*SQLStore)(nil)
