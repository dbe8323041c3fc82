package service

import (
	"fmt"
	"net/http"

	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/point/providers"
	"github.com/m3w/pointloom/internal/variables"
)

// Credentials carries the per-datasource secrets and local paths the
// adapters need. Zero values disable the datasources that require them.
type Credentials struct {
	MesowestToken     string
	FrostClientID     string
	FrostClientSecret string
	ARMUserID         string
	ARMAccessToken    string
	// CacheDir holds downloaded flat files (csv, netCDF).
	CacheDir string
}

// DefaultSources wires every datasource the credentials allow. Sources
// needing a missing credential are left out rather than failing at
// request time.
func DefaultSources(client *http.Client, creds Credentials) []Source {
	sources := []Source{
		{
			Name:     variables.SourceCDEC,
			Registry: variables.CDEC,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewCDECStation(client, id, name), nil
			},
			Searcher: providers.NewCDECSearcher(client),
		},
		{
			Name:     variables.SourceSnotel,
			Registry: variables.Snotel,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewSnotelStation(client, id, name), nil
			},
			Searcher: providers.NewSnotelSearcher(client),
		},
		{
			Name:     variables.SourceUSGS,
			Registry: variables.USGS,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewUSGSStation(client, id, name), nil
			},
			Searcher: providers.NewUSGSSearcher(client),
		},
		{
			Name:     variables.SourceGeoSphere,
			Registry: variables.GeoSphereHist,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewGeoSphereHistStation(client, id, name), nil
			},
			Searcher: providers.NewGeoSphereHistSearcher(client),
		},
		{
			// The tawes 10 minute dataset covers only the last few
			// months but carries variables klima-v2 lacks.
			Name:     "GEOSPHERE_CURRENT",
			Registry: variables.GeoSphereCurrent,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewGeoSphereCurrentStation(client, id, name), nil
			},
			Searcher: providers.NewGeoSphereCurrentSearcher(client),
		},
		{
			Name:     variables.SourceCSAS,
			Registry: variables.CSAS,
			NewStation: func(id, _ string) (point.Station, error) {
				return providers.NewCSASStation(client, id, creds.CacheDir)
			},
			Searcher: providers.NewCSASSearcher(client, creds.CacheDir),
		},
		{
			Name:     variables.SourceSnowEx,
			Registry: variables.SnowEx,
			NewStation: func(id, _ string) (point.Station, error) {
				return providers.NewSnowExStation(client, id, creds.CacheDir)
			},
			Searcher: providers.NewSnowExSearcher(client, creds.CacheDir),
		},
		{
			Name:     variables.SourceCUES,
			Registry: variables.CUES,
			NewStation: func(id, _ string) (point.Station, error) {
				if id != "" && id != "CUES" {
					return nil, fmt.Errorf("cues: unknown station id %q", id)
				}
				return providers.NewCUESStation(client), nil
			},
		},
	}

	if creds.MesowestToken != "" {
		sources = append(sources, Source{
			Name:     variables.SourceMesowest,
			Registry: variables.Mesowest,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewMesowestStation(client, id, name, creds.MesowestToken), nil
			},
			Searcher: providers.NewMesowestSearcher(client, creds.MesowestToken),
		})
	}
	if creds.FrostClientID != "" && creds.FrostClientSecret != "" {
		sources = append(sources, Source{
			Name:     variables.SourceNorway,
			Registry: variables.Norway,
			NewStation: func(id, name string) (point.Station, error) {
				return providers.NewNorwayStation(client, id, name, creds.FrostClientID, creds.FrostClientSecret), nil
			},
			Searcher: providers.NewNorwaySearcher(client, creds.FrostClientID, creds.FrostClientSecret),
		})
	}
	if creds.ARMUserID != "" && creds.ARMAccessToken != "" {
		sources = append(sources, Source{
			Name:     variables.SourceSAIL,
			Registry: variables.SAIL,
			NewStation: func(id, _ string) (point.Station, error) {
				if id != "" && id != "GUC" {
					return nil, fmt.Errorf("sail: unknown station id %q", id)
				}
				return providers.NewSAILStation(client, creds.ARMUserID, creds.ARMAccessToken, creds.CacheDir), nil
			},
		})
	}
	return sources
}
