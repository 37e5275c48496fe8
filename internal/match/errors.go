package match

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
)

// ConfigurationError reports an invalid bucket key or query setting.
type ConfigurationError = buckets.ConfigurationError

// Sentinels for errors.Is. Each matches any error of the same type.
var (
	ErrConfiguration      = buckets.ErrConfiguration
	ErrMissingColumn      = &MissingColumnError{}
	ErrEmptyColumn        = &EmptyColumnError{}
	ErrSingularCovariance = &SingularCovarianceError{}
	ErrNegativeValue      = &NegativeValueError{}
	ErrDistrictNotFound   = &DistrictNotFoundError{}
	ErrUnsupportedMetric  = &UnsupportedMetricError{}
	ErrNoFeatures         = &NoFeaturesError{}
)

// MissingColumnError indicates a resolved feature column is absent from the
// year's dataset.
type MissingColumnError struct {
	Column string
	Year   int
}

func (e *MissingColumnError) Error() string {
	if e.Year > 0 {
		return fmt.Sprintf("column %q not found in %d dataset", e.Column, e.Year)
	}
	return fmt.Sprintf("column %q not found in dataset", e.Column)
}

func (e *MissingColumnError) Is(target error) bool {
	_, ok := target.(*MissingColumnError)
	return ok
}

// EmptyColumnError indicates a feature column has no values to impute from.
type EmptyColumnError struct {
	Column string
}

func (e *EmptyColumnError) Error() string {
	return fmt.Sprintf("column %q has no values to impute from", e.Column)
}

func (e *EmptyColumnError) Is(target error) bool {
	_, ok := target.(*EmptyColumnError)
	return ok
}

// SingularCovarianceError indicates the feature covariance matrix cannot be
// inverted, usually because two columns are collinear.
type SingularCovarianceError struct {
	Columns []string
	// Ratio is the smallest singular value over the largest.
	Ratio float64
}

func (e *SingularCovarianceError) Error() string {
	return fmt.Sprintf("covariance matrix of %d feature(s) is singular (singular value ratio %.3g)", len(e.Columns), e.Ratio)
}

func (e *SingularCovarianceError) Is(target error) bool {
	_, ok := target.(*SingularCovarianceError)
	return ok
}

// NegativeValueError reports the first negative value found where only
// non-negative values are allowed.
type NegativeValueError struct {
	Column     string
	DistrictID string
	Value      float64
}

func (e *NegativeValueError) Error() string {
	return fmt.Sprintf("column %q has negative value %g (district %s)", e.Column, e.Value, e.DistrictID)
}

func (e *NegativeValueError) Is(target error) bool {
	_, ok := target.(*NegativeValueError)
	return ok
}

// DistrictNotFoundError indicates the target district is not in the dataset.
type DistrictNotFoundError struct {
	ID   string
	Year int
}

func (e *DistrictNotFoundError) Error() string {
	if e.Year > 0 {
		return fmt.Sprintf("district %q not found in %d dataset", e.ID, e.Year)
	}
	return fmt.Sprintf("district %q not found", e.ID)
}

func (e *DistrictNotFoundError) Is(target error) bool {
	_, ok := target.(*DistrictNotFoundError)
	return ok
}

// UnsupportedMetricError indicates an unknown distance metric name.
type UnsupportedMetricError struct {
	Metric    string
	Supported []string
}

func (e *UnsupportedMetricError) Error() string {
	return fmt.Sprintf("unsupported metric %q (supported: %s)", e.Metric, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedMetricError) Is(target error) bool {
	_, ok := target.(*UnsupportedMetricError)
	return ok
}

// NoFeaturesError indicates the selected buckets resolved to no columns.
type NoFeaturesError struct {
	Buckets []string
	Year    int
}

func (e *NoFeaturesError) Error() string {
	return fmt.Sprintf("buckets %s resolve to no columns in %d", strings.Join(e.Buckets, ", "), e.Year)
}

func (e *NoFeaturesError) Is(target error) bool {
	_, ok := target.(*NoFeaturesError)
	return ok
}

// Hint returns advice for an end user, or "" when there is none.
func Hint(err error) string {
	var ce *ConfigurationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSingularCovariance):
		return "Mahalanobis distance is not available for this feature selection. Try Euclidean, or drop one of the overlapping feature groups."
	case errors.Is(err, ErrNegativeValue):
		return "Canberra distance needs non-negative values. Try Euclidean or Manhattan."
	case errors.Is(err, ErrDistrictNotFound):
		return "Check the district id; use the districts command to list the districts of a year."
	case errors.Is(err, ErrNoFeatures):
		return "The selected feature groups have no data for this year. Pick other groups or another year."
	case errors.Is(err, ErrEmptyColumn):
		return "A selected feature has no data for this year. Remove its feature group."
	case errors.Is(err, ErrMissingColumn):
		return "The dataset does not match the label key for this year."
	case errors.Is(err, ErrUnsupportedMetric):
		return "Use one of: " + strings.Join(MetricNames(), ", ") + "."
	case errors.As(err, &ce) && strings.HasPrefix(ce.Reason, "unknown bucket"):
		return "Use the buckets command to list valid feature groups."
	}
	return ""
}
