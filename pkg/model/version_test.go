// Copyright © 2018 One Concern

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/oneconcern/keel/pkg/errors"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Version
		wantErr bool
	}{
		{name: "plain", raw: "v1.2.3", want: Version{Major: 1, Minor: 2, Patch: 3}},
		{name: "no v", raw: "0.10.0", want: Version{Minor: 10}},
		{name: "branch", raw: "v2.0.1-feature-x", want: Version{Major: 2, Patch: 1, Branch: "feature-x"}},
		{name: "partial", raw: "v1.2", wantErr: true},
		{name: "metadata", raw: "v1.2.3+build", wantErr: true},
		{name: "unsanitized branch", raw: "v1.2.3-Feature", wantErr: true},
		{name: "dotted branch", raw: "v1.2.3-rc.1", wantErr: true},
		{name: "numeric branch", raw: "v1.2.3-123", wantErr: true},
		{name: "garbage", raw: "latest", wantErr: true},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVersion(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidVersion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "v1.0.0", FirstVersion("").String())
	assert.Equal(t, "v1.0.0-b42", FirstVersion("42").String())
	assert.Equal(t, "v3.1.4-dev", Version{Major: 3, Minor: 1, Patch: 4, Branch: "dev"}.String())
}

func TestVersionBump(t *testing.T) {
	v := MustParseVersion("v1.2.3-dev")
	assert.Equal(t, "v2.0.0-dev", v.Bump(BumpMajor).String())
	assert.Equal(t, "v1.3.0-dev", v.Bump(BumpMinor).String())
	assert.Equal(t, "v1.2.4-dev", v.Bump(BumpPatch).String())
	assert.Equal(t, v, v.Bump(BumpNone))
}

func TestVersionCompare(t *testing.T) {
	ordered := []string{"v0.9.9", "v1.0.0", "v1.0.0-alpha", "v1.0.0-beta", "v1.0.1", "v1.10.0", "v2.0.0"}
	for i := 1; i < len(ordered); i++ {
		a, b := MustParseVersion(ordered[i-1]), MustParseVersion(ordered[i])
		assert.Truef(t, a.Less(b), "%s < %s", a, b)
		assert.Equal(t, 1, b.Compare(a))
	}

	versions := []Version{MustParseVersion("v1.10.0"), MustParseVersion("v1.2.0"), MustParseVersion("v1.9.3")}
	SortVersions(versions)
	assert.Equal(t, "v1.2.0", versions[0].String())
	SortVersionsDesc(versions)
	assert.Equal(t, "v1.10.0", versions[0].String())
}

func TestVersionYAML(t *testing.T) {
	var v Version
	require.NoError(t, v.UnmarshalYAML(func(out interface{}) error {
		*(out.(*string)) = "v4.5.6-topic"
		return nil
	}))
	assert.Equal(t, Version{Major: 4, Minor: 5, Patch: 6, Branch: "topic"}, v)
	m, err := v.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "v4.5.6-topic", m)
}

func TestPrefix(t *testing.T) {
	p, err := ParsePrefix("v1")
	require.NoError(t, err)
	assert.True(t, p.Matches(MustParseVersion("v1.2.3")))
	assert.True(t, p.Matches(MustParseVersion("v1.0.0-dev")))
	assert.False(t, p.Matches(MustParseVersion("v2.0.0")))
	_, exact := p.Exact()
	assert.False(t, exact)

	p, err = ParsePrefix("1.2-dev")
	require.NoError(t, err)
	assert.Equal(t, "v1.2-dev", p.String())
	assert.True(t, p.Matches(MustParseVersion("v1.2.9-dev")))
	assert.False(t, p.Matches(MustParseVersion("v1.2.9")))

	p, err = ParsePrefix("v1.2.3")
	require.NoError(t, err)
	v, exact := p.Exact()
	require.True(t, exact)
	assert.Equal(t, "v1.2.3", v.String())

	for _, bad := range []string{"v", "v1.2.3.4", "v01", "vx.1", "v1-"} {
		_, err = ParsePrefix(bad)
		assert.Errorf(t, err, "expected %q to be rejected", bad)
	}
}

func genVersion() *rapid.Generator[Version] {
	return rapid.Custom(func(t *rapid.T) Version {
		return Version{
			Major:  rapid.Uint64Range(0, 20).Draw(t, "major"),
			Minor:  rapid.Uint64Range(0, 20).Draw(t, "minor"),
			Patch:  rapid.Uint64Range(0, 20).Draw(t, "patch"),
			Branch: rapid.SampledFrom([]string{"", "dev", "feature-x"}).Draw(t, "branch"),
		}
	})
}

func TestVersionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genVersion().Draw(t, "v")
		w := genVersion().Draw(t, "w")

		// rendering round trips
		p, err := ParseVersion(v.String())
		if err != nil || p != v {
			t.Fatalf("%s does not round trip: %v %v", v, p, err)
		}

		// total order
		if v.Compare(w) != -w.Compare(v) {
			t.Fatalf("asymmetric comparison of %s and %s", v, w)
		}
		if (v.Compare(w) == 0) != (v == w) {
			t.Fatalf("%s and %s compare equal but differ", v, w)
		}

		// bumps strictly increase and keep the branch
		for _, kind := range []BumpKind{BumpPatch, BumpMinor, BumpMajor} {
			b := v.Bump(kind)
			if !v.Less(b) || b.Branch != v.Branch {
				t.Fatalf("%s bumped %s to %s", v, kind, b)
			}
		}
	})
}

func TestBumpKindText(t *testing.T) {
	for _, k := range []BumpKind{BumpNone, BumpPatch, BumpMinor, BumpMajor} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back BumpKind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	var b BumpKind
	require.Error(t, b.UnmarshalText([]byte("huge")))
}
