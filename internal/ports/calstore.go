package ports

import "github.com/ghalamif/sensorhub/internal/domain"

// CalibrationStore persists one calibration blob per resource name.
// Load of an absent blob returns an empty blob and no error.
type CalibrationStore interface {
	Load(resource string) (domain.CalibrationBlob, error)
	Save(resource string, blob domain.CalibrationBlob) error
	Clear(resource string) error
}
