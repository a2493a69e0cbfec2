package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// Version is reported by /api/v1/info.
const Version = "0.1.0"

type InfoHandler struct {
	body InfoBody
}

func NewInfoHandler(dataDir, catalogDriver, mapDriver string, dbOK bool) *InfoHandler {
	return &InfoHandler{body: InfoBody{
		Name:      "geo-coverage",
		Version:   Version,
		DataDir:   dataDir,
		DB:        dbOK,
		Catalog:   catalogDriver,
		MapSource: mapDriver,
		Features:  []string{"column-guessing", "debounced-fetch", "datastar-settings"},
	}}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name      string   `json:"name" doc:"Service name"`
	Version   string   `json:"version" doc:"Service version"`
	DataDir   string   `json:"data_dir" doc:"Data directory path"`
	DB        bool     `json:"db" doc:"Whether the local DuckDB database is open"`
	Catalog   string   `json:"catalog" doc:"Catalog driver" example:"duckdb"`
	MapSource string   `json:"mapsource" doc:"Map source driver" example:"remote"`
	Features  []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: h.body}, nil
}
