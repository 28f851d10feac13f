package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestWithKind_NilStaysNil(t *testing.T) {
	assert.NoError(t, WithKind(KindNetwork, nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOf(t *testing.T) {
	base := errors.New("sheet has no header row")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"untagged", base, KindUnknown},
		{"tagged", WithKind(KindNetwork, base), KindNetwork},
		{"wrapped by eris", eris.Wrap(WithKind(KindParse, base), "ingest: read file"), KindParse},
		{"wrapped by fmt", fmt.Errorf("store: %w", WithKind(KindStorage, base)), KindStorage},
		{"outermost wins", WithKind(KindStorage, WithKind(KindParse, base)), KindStorage},
		{"joined", errors.Join(base, WithKind(KindNetwork, base)), KindNetwork},
		{"untagged transient", NewTransientError(errors.New("http 503"), 503), KindNetwork},
		{"tag beats transient", WithKind(KindStorage, errors.New("connection reset by peer")), KindStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWithKind_KeepsMessageAndChain(t *testing.T) {
	base := errors.New("disk full")
	err := WithKind(KindStorage, base)

	assert.Equal(t, "disk full", err.Error())
	assert.ErrorIs(t, err, base)
}
