package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopylabs/datamart/pkg/datamart"
	"github.com/canopylabs/datamart/pkg/server"
	"github.com/canopylabs/datamart/pkg/testutil"
)

// stubStore backs the manager with canned registry rows. The embedded
// interface panics on anything the handlers under test do not touch.
type stubStore struct {
	datamart.Store
	dimensions []datamart.DimensionRegistration
	factTables []datamart.FactTableRegistration
}

func (s *stubStore) ListDimensions(ctx context.Context) ([]datamart.DimensionRegistration, error) {
	return s.dimensions, nil
}

func (s *stubStore) ListFactTables(ctx context.Context) ([]datamart.FactTableRegistration, error) {
	return s.factTables, nil
}

func (s *stubStore) GetDimension(ctx context.Context, name string) (*datamart.DimensionRegistration, error) {
	for _, reg := range s.dimensions {
		if reg.Name == name {
			return &reg, nil
		}
	}
	return nil, nil
}

func testServer(t *testing.T) *server.Server {
	t.Helper()
	log := testutil.NewLogger()

	store := &stubStore{
		dimensions: []datamart.DimensionRegistration{{
			Name:        "species",
			TypeKey:     datamart.TypeKeyGeneric,
			LabelColumn: "label",
			Properties: map[string]any{
				"columns": []any{map[string]any{"name": "label", "type": "text"}},
			},
		}},
	}

	d, err := datamart.NewGenericDimension(datamart.GenericConfig{
		BaseConfig: datamart.BaseConfig{
			Logger:  log,
			Name:    "species",
			Columns: []datamart.Column{datamart.Text("label")},
		},
	})
	require.NoError(t, err)

	ft, err := datamart.NewFactTable(datamart.FactTableConfig{
		Logger:     log,
		Name:       "occurrences",
		Dimensions: []datamart.Dimension{d},
	})
	require.NoError(t, err)

	model, err := datamart.NewModel(datamart.ModelConfig{
		Logger:     log,
		Store:      store,
		Dimensions: []datamart.Dimension{d},
		FactTables: []*datamart.FactTable{ft},
	})
	require.NoError(t, err)

	manager, err := datamart.NewManager(datamart.ManagerConfig{Logger: log, Store: store})
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Logger:  log,
		Model:   model,
		Manager: manager,
	})
	require.NoError(t, err)
	return srv
}

func TestServer_CubeModel(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cube-model", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var cm datamart.CubeModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cm))
	require.Len(t, cm.Dimensions, 1)
	require.Equal(t, "species", cm.Dimensions[0].Name)
	require.Len(t, cm.Cubes, 1)
	require.Equal(t, "occurrences", cm.Cubes[0].Name)
}

func TestServer_ListDimensions(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dimensions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var regs []datamart.DimensionRegistration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regs))
	require.Len(t, regs, 1)
	require.Equal(t, "species", regs[0].Name)
}

func TestServer_DimensionValues_NotFound(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dimensions/ghost/values", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
