package organica_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/afectaciones-engine/organica"
)

func TestKey_Navigation(t *testing.T) {
	k := organica.NewKey("01", " 02 ", "03")

	assert.Equal(t, organica.Level2, k.Level())
	assert.Equal(t, "01/02/03", k.String())
	assert.Equal(t, "010203", k.Clave())
	assert.Equal(t, organica.NewKey("01", "02"), k.Parent())
	assert.Equal(t, organica.NewKey("01", "02"), k.Branch())
	assert.Equal(t, organica.NewKey("01", "02", "03", "04"), k.Child("04"))
	assert.Equal(t, organica.Key{}, organica.NewKey("01").Parent())
	assert.Equal(t, "org2", k.Level().Table())
}

func TestKey_CheckFormat(t *testing.T) {
	cases := []struct {
		name string
		key  organica.Key
		ok   bool
	}{
		{"level0", organica.NewKey("01"), true},
		{"full", organica.NewKey("01", "02", "03", "04"), true},
		{"empty", organica.Key{}, false},
		{"org1 without org0", organica.Key{Org1: "02"}, false},
		{"org3 without org2", organica.Key{Org0: "01", Org1: "02", Org3: "04"}, false},
		{"non alphanumeric", organica.NewKey("01", "0_2"), false},
		{"too long", organica.NewKey("ABCDEFGHI"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.CheckFormat()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
