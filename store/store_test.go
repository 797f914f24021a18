package store_test

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"

	"github.com/cloudsyncd/pcloudfs/store"
)

type storeSuite struct {
	suite.Suite
}

func (s *storeSuite) stores() map[string]store.Store {
	file, err := store.NewFile(afero.NewMemMapFs(), "/settings/settings.json")
	s.Require().NoError(err)
	return map[string]store.Store{
		"memory": store.NewMemory(),
		"file":   file,
	}
}

func (s *storeSuite) TestRoundTrip() {
	for name, st := range s.stores() {
		s.Run(name, func() {
			_, ok, err := st.Get("auth.sync1")
			s.Require().NoError(err)
			s.False(ok)

			s.Require().NoError(st.Put("auth.sync1", "token-a"))
			v, ok, err := st.Get("auth.sync1")
			s.Require().NoError(err)
			s.True(ok)
			s.Equal("token-a", v)

			s.Require().NoError(st.Put("auth.sync1", "token-b"))
			v, _, err = st.Get("auth.sync1")
			s.Require().NoError(err)
			s.Equal("token-b", v)
		})
	}
}

func (s *storeSuite) TestDeleteIsIdempotent() {
	for name, st := range s.stores() {
		s.Run(name, func() {
			s.Require().NoError(st.Delete("missing"))

			s.Require().NoError(st.Put("auth.sync1", "token"))
			s.Require().NoError(st.Delete("auth.sync1"))
			_, ok, err := st.Get("auth.sync1")
			s.Require().NoError(err)
			s.False(ok)
		})
	}
}

func (s *storeSuite) TestFilePersistsAcrossInstances() {
	fs := afero.NewMemMapFs()
	first, err := store.NewFile(fs, "/settings/settings.json")
	s.Require().NoError(err)
	s.Require().NoError(first.Put("auth.sync1", "token"))

	second, err := store.NewFile(fs, "/settings/settings.json")
	s.Require().NoError(err)
	v, ok, err := second.Get("auth.sync1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("token", v)
}

func (s *storeSuite) TestFileWritesSingleJSONDocument() {
	fs := afero.NewMemMapFs()
	st, err := store.NewFile(fs, "/settings/settings.json")
	s.Require().NoError(err)
	s.Require().NoError(st.Put("a", "1"))
	s.Require().NoError(st.Put("b", "2"))

	raw, err := afero.ReadFile(fs, "/settings/settings.json")
	s.Require().NoError(err)
	m := map[string]string{}
	s.Require().NoError(json.Unmarshal(raw, &m))
	s.Equal(map[string]string{"a": "1", "b": "2"}, m)
}

func (s *storeSuite) TestFileCorruptDocument() {
	fs := afero.NewMemMapFs()
	s.Require().NoError(afero.WriteFile(fs, "/settings/settings.json", []byte("not json"), 0o600))

	st, err := store.NewFile(fs, "/settings/settings.json")
	s.Require().NoError(err)
	_, _, err = st.Get("auth.sync1")
	s.Error(err)
	s.Error(st.Put("auth.sync1", "token"))
}

func TestStore(t *testing.T) {
	suite.Run(t, new(storeSuite))
}
