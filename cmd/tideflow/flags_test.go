package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
)

func TestRootOptionsValidate(t *testing.T) {
	tests := []struct {
		output  string
		want    internal.OutputFormat
		wantErr bool
	}{
		{output: "text", want: internal.FormatText},
		{output: "json", want: internal.FormatJSON},
		{output: "yaml", wantErr: true},
		{output: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			o := &rootOptions{output: tt.output}
			err := o.validate()
			if tt.wantErr {
				var cliErr *internal.CLIError
				require.ErrorAs(t, err, &cliErr)
				assert.Equal(t, internal.ExitConfigError, cliErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.format())
		})
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{
		"source=/srv/data",
		"retries=3",
		"ratio=0.5",
		"verbose=true",
		"dry_run=false",
		"expr=a=b",
		"empty=",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"source":  "/srv/data",
		"retries": 3,
		"ratio":   0.5,
		"verbose": true,
		"dry_run": false,
		"expr":    "a=b",
		"empty":   "",
	}, vars)

	for _, bad := range []string{"novalue", "=value", " =x"} {
		_, err := parseVars([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "24h", want: 24 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "0d", wantErr: true},
		{in: "-1h", wantErr: true},
		{in: "7days", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWindow(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
