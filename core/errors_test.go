package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy_Classification(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{TransientIO("connector.fetch", cause), KindTransientIO},
		{InputInvalid("extract.parse", cause), KindInputInvalid},
		{StoreUnavailable("jobstore.query", cause), KindStoreUnavailable},
		{ExternalExpired("sweeper.check", cause), KindExternalExpired},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err))
		assert.ErrorIs(t, tt.err, cause)
	}
}

func TestErrorTaxonomy_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("search stage: %w", TransientIO("connector.fetch", errors.New("timeout")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsStoreUnavailable(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}
