package semver

import (
	"testing"

	"github.com/zeebo/assert"
)

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		want       bool
		wantErr    bool
	}{
		{name: "inside range", version: "1.0.0", constraint: ">= 1.0.0, < 2.0.0", want: true},
		{name: "above range", version: "2.1.0", constraint: ">= 1.0.0, < 2.0.0", want: false},
		{name: "tilde", version: "1.2.9", constraint: "~1.2", want: true},
		{name: "v prefix", version: "v1.4.0", constraint: "^1.0.0", want: true},
		{name: "empty constraint", version: "0.0.1", want: true},
		{name: "invalid version", version: "latest", constraint: ">= 1.0.0", wantErr: true},
		{name: "invalid constraint", version: "1.0.0", constraint: ">>> one", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Satisfies(tt.version, tt.constraint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateConstraint(t *testing.T) {
	assert.NoError(t, ValidateConstraint(""))
	assert.NoError(t, ValidateConstraint(">= 1.0.0"))
	assert.Error(t, ValidateConstraint("not a constraint"))
}

func TestSatisfiesInvalidVersionMessage(t *testing.T) {
	_, err := Satisfies("latest", "")
	assert.Error(t, err)
	assert.Equal(t, "invalid semver: latest", err.Error())
}
