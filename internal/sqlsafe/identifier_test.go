// ABOUTME: Tests for identifier grammar, table reference parsing and allow-lists.
// ABOUTME: Property checks run generated strings through the grammar.

package sqlsafe

import (
	"errors"
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsIdentifier(t *testing.T) {
	valid := []string{"users", "_private", "Order_Items2", "a", "_", "T1"}
	invalid := []string{"", "1abc", "users;drop", "a b", "a-b", `"x"`, "sch.tbl", "naïve", "a\x00", "x'--"}

	for _, s := range valid {
		assert.True(t, IsIdentifier(s), "expected %q to be valid", s)
		assert.NoError(t, ValidateIdentifier(s))
	}
	for _, s := range invalid {
		assert.False(t, IsIdentifier(s), "expected %q to be invalid", s)
		err := ValidateIdentifier(s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidIdentifier))
	}
}

func TestIsIdentifier_MatchesGrammar(t *testing.T) {
	grammar := regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	alphabet := []rune("abcXYZ_019 .;'\"-`$é")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		n := rng.Intn(8)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(buf)
		assert.Equal(t, grammar.MatchString(s), IsIdentifier(s), "input %q", s)
	}
}

func TestParseTableRef(t *testing.T) {
	tests := []struct {
		input   string
		want    TableRef
		wantErr bool
	}{
		{input: "users", want: TableRef{Schema: "public", Table: "users"}},
		{input: "  sales.orders ", want: TableRef{Schema: "sales", Table: "orders"}},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: "a.b.c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTableRef(tt.input, "public")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableRef_Validate(t *testing.T) {
	assert.NoError(t, TableRef{Schema: "public", Table: "users"}.Validate())
	assert.ErrorIs(t, TableRef{Schema: "pub lic", Table: "users"}.Validate(), ErrInvalidIdentifier)
	assert.ErrorIs(t, TableRef{Schema: "public", Table: "users--"}.Validate(), ErrInvalidIdentifier)
}

func TestAllowList(t *testing.T) {
	t.Run("nil is unrestricted", func(t *testing.T) {
		a := NewAllowList(nil)
		assert.False(t, a.Restricted())
		assert.True(t, a.Permits(TableRef{Schema: "x", Table: "anything"}))
	})

	t.Run("empty denies all", func(t *testing.T) {
		a := NewAllowList([]string{})
		assert.True(t, a.Restricted())
		assert.False(t, a.Permits(TableRef{Schema: "public", Table: "users"}))
	})

	t.Run("qualified and bare entries", func(t *testing.T) {
		a := NewAllowList([]string{" orders ", "public.users", ""})
		assert.True(t, a.Permits(TableRef{Schema: "public", Table: "users"}))
		assert.False(t, a.Permits(TableRef{Schema: "other", Table: "users"}))
		assert.True(t, a.Permits(TableRef{Schema: "anything", Table: "orders"}))
		assert.False(t, a.Permits(TableRef{Schema: "public", Table: "secrets"}))
	})

	t.Run("filter", func(t *testing.T) {
		a := NewAllowList([]string{"orders", "public.users"})
		got := a.Filter("public", []string{"orders", "secrets", "users"})
		assert.Equal(t, []string{"orders", "users"}, got)
	})
}
