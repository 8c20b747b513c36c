package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/validation"
)

type line struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type request struct {
	ReferenceID string `json:"reference_id" validate:"required"`
	Items       []line `json:"items" validate:"min=1,dive"`
	Strategy    string `json:"strategy" validate:"omitempty,oneof=fifo nearest"`
}

func TestStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := validation.Struct(request{ReferenceID: "o-1", Items: []line{{ProductID: "p", Quantity: 1}}})
		assert.NoError(t, err)
	})

	t.Run("reports json paths", func(t *testing.T) {
		err := validation.Struct(request{
			Items:    []line{{ProductID: "p", Quantity: 0}},
			Strategy: "random",
		})
		require.Error(t, err)

		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, errors.CodeValidation, appErr.Code)
		assert.Equal(t, "this field is required", appErr.Details["reference_id"])
		assert.Equal(t, "must be greater than 0", appErr.Details["items[0].quantity"])
		assert.Equal(t, "must be one of: fifo nearest", appErr.Details["strategy"])
	})

	t.Run("empty slice", func(t *testing.T) {
		err := validation.Struct(request{ReferenceID: "o-1"})
		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "must contain at least 1 item(s)", appErr.Details["items"])
	})
}
