package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

func TestPlanError_Error(t *testing.T) {
	err := New(KindQuery, errors.New("unknown operator: $foo")).
		WithPhase(PhaseBefore).
		WithCollection("students")

	assert.Equal(t, `before: QUERY_ERROR on "students": unknown operator: $foo`, err.Error())
	assert.Equal(t, "CONNECTION_ERROR", New(KindConnection, nil).Error())
}

func TestPlanError_Is(t *testing.T) {
	err := fmt.Errorf("compare: %w", New(KindIndexConflict, errors.New("exists")))

	assert.True(t, errors.Is(err, ErrIndexConflict))
	assert.False(t, errors.Is(err, ErrIndexCreation))
}

func TestPlanError_Unwrap(t *testing.T) {
	err := New(KindCanceled, context.Canceled).WithPhase(PhaseAfter)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPlanError_WithDoesNotMutate(t *testing.T) {
	base := New(KindQuery, errors.New("bad"))
	tagged := base.WithPhase(PhaseAfter).WithCollection("students").WithQuery(models.QuerySpec{Collection: "students"})

	assert.Empty(t, base.Phase)
	assert.Empty(t, base.Collection)
	assert.Nil(t, base.Query)
	assert.Equal(t, PhaseAfter, tagged.Phase)
	assert.Equal(t, "students", tagged.Query.Collection)
}

func TestKindOfAndAs(t *testing.T) {
	plain := errors.New("plain")
	assert.Equal(t, KindCleanup, KindOf(plain, KindCleanup))
	assert.Equal(t, KindCleanup, As(plain, KindCleanup).Kind)
	assert.Same(t, plain, As(plain, KindCleanup).Cause)

	typed := fmt.Errorf("wrapped: %w", New(KindConnection, plain))
	assert.Equal(t, KindConnection, KindOf(typed, KindQuery))
	assert.Equal(t, KindConnection, As(typed, KindQuery).Kind)
}
