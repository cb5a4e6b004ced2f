package httpapi

import (
	"animeagg/internal/anime"
	"animeagg/internal/engine"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const report_upstream = "upstream"

func intQuery(c *gin.Context, name string, fallback int) int {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func boolQuery(c *gin.Context, name string) bool {
	value, err := strconv.ParseBool(c.Query(name))
	return err == nil && value
}

// sourceParam parses the :source path parameter, answering 400 when it is
// not a known source.
func sourceParam(c *gin.Context) (anime.Source, bool) {
	source, err := anime.ParseSource(c.Param("source"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return source, true
}

func (a *API) upstreamError(c *gin.Context, err error) {
	var unknown anime.UnknownSourceError
	if errors.As(err, &unknown) {
		fail(c, http.StatusBadRequest, unknown.Error())
		return
	}
	a.tel.ReportWarning(report_upstream, c.Request.URL.Path, err)
	fail(c, http.StatusBadGateway, err.Error())
}

type healthResponse struct {
	Status  string         `json:"status"`
	Sources []anime.Source `json:"sources"`
	Time    string         `json:"time"`
}

func (a *API) health(c *gin.Context) {
	ok(c, healthResponse{
		Status:  "ok",
		Sources: a.engine.Sources(),
		Time:    a.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) trending(c *gin.Context) {
	listings, err := a.engine.Trending(c.Request.Context(), engine.TrendingOptions{
		Limit:  intQuery(c, "limit", 20),
		SortBy: engine.SortKey(c.Query("sortBy")),
	})
	if err != nil {
		a.upstreamError(c, err)
		return
	}
	ok(c, listings)
}

func (a *API) search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	listings, err := a.engine.Search(c.Request.Context(), engine.SearchOptions{
		Query:        query,
		Limit:        intQuery(c, "limit", 20),
		FetchDetails: boolQuery(c, "details"),
		SortBy:       engine.SortKey(c.Query("sortBy")),
	})
	if err != nil {
		a.upstreamError(c, err)
		return
	}
	ok(c, listings)
}

func (a *API) detail(c *gin.Context) {
	source, valid := sourceParam(c)
	if !valid {
		return
	}
	detail, err := a.engine.Detail(c.Request.Context(), source, c.Param("slug"))
	if err != nil {
		a.upstreamError(c, err)
		return
	}
	ok(c, detail)
}

func (a *API) episodes(c *gin.Context) {
	source, valid := sourceParam(c)
	if !valid {
		return
	}
	episodes, err := a.engine.Episodes(c.Request.Context(), source, c.Param("slug"))
	if err != nil {
		a.upstreamError(c, err)
		return
	}
	ok(c, episodes)
}

func (a *API) episodeSources(c *gin.Context) {
	source, valid := sourceParam(c)
	if !valid {
		return
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		fail(c, http.StatusBadRequest, "episode number must be a positive integer")
		return
	}

	list, err := a.engine.EpisodeSources(c.Request.Context(), source, c.Param("slug"), number, c.Query("server"))
	if err != nil {
		a.upstreamError(c, err)
		return
	}
	if boolQuery(c, "best") {
		list = anime.SelectBestSource(list, a.config.PreferredServers, a.config.QualityRanking)
	}
	ok(c, list)
}
