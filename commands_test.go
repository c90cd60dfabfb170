package clips

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/diag"
	"github.com/tildemin3/clips-core/symbol"
)

func lexeme(t *testing.T, v any) string {
	t.Helper()
	s, ok := v.(*symbol.Value)
	require.True(t, ok, "got %T", v)
	return s.Lexeme()
}

func TestImageCommands(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	define(t, env)

	v, err := env.Call(ctx, "image-loaded-p")
	require.NoError(t, err)
	assert.Equal(t, "FALSE", lexeme(t, v))

	v, err = env.Call(ctx, "bsave", "kb.img")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", lexeme(t, v))

	v, err = env.Call(ctx, "bload", env.Symbols().Symbol("kb.img"))
	require.NoError(t, err)
	assert.Equal(t, "TRUE", lexeme(t, v))

	v, err = env.Call(ctx, "image-loaded-p")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", lexeme(t, v))

	v, err = env.Call(ctx, "unload-image")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", lexeme(t, v))
	assert.False(t, env.IsImageLoaded())
}

func TestCommandDiagnostics(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		fn    string
		args  []any
		check func(t *testing.T, err error)
		want  string
	}{
		{
			name: "count",
			fn:   "bload",
			check: func(t *testing.T, err error) {
				var ece *diag.ExpectedCountError
				require.ErrorAs(t, err, &ece)
				assert.Equal(t, 1, ece.Expected)
			},
			want: "[ARGACCES1] Function 'bload' expected exactly 1 argument.",
		},
		{
			name: "type",
			fn:   "bsave",
			args: []any{int64(3)},
			check: func(t *testing.T, err error) {
				var ete *diag.ExpectedTypeError
				require.ErrorAs(t, err, &ete)
			},
			want: "[ARGACCES2] Function 'bsave' expected argument #1 to be of type string or symbol.",
		},
		{
			name: "open",
			fn:   "bload",
			args: []any{"missing.img"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrOpen)
			},
			want: "[ARGACCES3] Function 'bload' was unable to open file 'missing.img'.",
		},
		{
			name: "unload without image",
			fn:   "unload-image",
			check: func(t *testing.T, err error) {
				assert.Error(t, err)
			},
			want: "[BLOAD3] Function 'unload-image' failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			env := newEnv(t, WithDiagnostics(&buf))
			v, err := env.Call(ctx, tt.fn, tt.args...)
			assert.Nil(t, v)
			tt.check(t, err)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
