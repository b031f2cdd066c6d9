// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService returns canned results or errors for each operation.
type stubService struct {
	queryResult    *datatypes.ProcessQueryResult
	queryErr       error
	feedbackResult *datatypes.ProcessFeedbackResult
	feedbackErr    error
	stats          *datatypes.SystemStats
	statsErr       error
	details        *datatypes.ClusterDetails
	detailsErr     error
}

func (s *stubService) ProcessQuery(_ context.Context, _ *datatypes.ProcessQueryRequest) (*datatypes.ProcessQueryResult, error) {
	return s.queryResult, s.queryErr
}

func (s *stubService) ProcessFeedback(_ context.Context, _ *datatypes.ProcessFeedbackRequest) (*datatypes.ProcessFeedbackResult, error) {
	return s.feedbackResult, s.feedbackErr
}

func (s *stubService) GetSystemStats(_ context.Context, _ string) (*datatypes.SystemStats, error) {
	return s.stats, s.statsErr
}

func (s *stubService) GetClusterDetails(_ context.Context, _ string) (*datatypes.ClusterDetails, error) {
	return s.details, s.detailsErr
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func queryRouter(svc Service) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/query", HandleQuery(svc))
	router.POST("/api/v1/feedback", HandleFeedback(svc))
	router.GET("/api/v1/stats", HandleStats(svc))
	router.GET("/api/v1/clusters/:id", HandleClusterDetails(svc))
	router.GET("/healthz", HealthCheck)
	return router
}

func TestHandleQuery_Success(t *testing.T) {
	svc := &stubService{
		queryResult: &datatypes.ProcessQueryResult{
			ClusterID:    "c1",
			AssignmentID: "a1",
			Similarity:   0.82,
			IsNewCluster: false,
		},
	}
	router := queryRouter(svc)

	w := performRequest(router, "POST", "/api/v1/query", map[string]string{
		"query_text": "what is a derivative",
		"session_id": "sess-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got datatypes.ProcessQueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.ClusterID)
	assert.InDelta(t, 0.82, got.Similarity, 1e-9)
}

func TestHandleQuery_MalformedBody(t *testing.T) {
	router := queryRouter(&stubService{})

	req, _ := http.NewRequest("POST", "/api/v1/query", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "input error",
			err:  datatypes.NewInputError("query_text", "missing or empty required field"),
			want: http.StatusBadRequest,
		},
		{
			name: "not found",
			err:  fmt.Errorf("assignment a1: %w", storage.ErrNotFound),
			want: http.StatusNotFound,
		},
		{
			name: "upstream",
			err:  datatypes.NewUpstreamError("openai-embedding", datatypes.UpstreamUnavailable, errors.New("boom")),
			want: http.StatusBadGateway,
		},
		{
			name: "persistence",
			err:  datatypes.NewPersistenceError("put assignment", errors.New("disk full")),
			want: http.StatusInternalServerError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := queryRouter(&stubService{queryErr: tc.err})
			w := performRequest(router, "POST", "/api/v1/query", map[string]string{
				"query_text": "q",
				"session_id": "s",
			})
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestHandleFeedback_Success(t *testing.T) {
	svc := &stubService{
		feedbackResult: &datatypes.ProcessFeedbackResult{
			FeedbackAnalysis: datatypes.FeedbackAnalysis{IsPositive: true, Confidence: 0.9, GatePassed: true},
			LearningResult:   datatypes.LearningResult{Updated: true, Transition: "seeded", NewVersion: 2},
		},
	}
	router := queryRouter(svc)

	w := performRequest(router, "POST", "/api/v1/feedback", map[string]string{
		"assignment_id": "a1",
		"feedback_text": "Very clear, thanks!",
		"response_text": "some response",
		"session_id":    "sess-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got datatypes.ProcessFeedbackResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.FeedbackAnalysis.GatePassed)
	assert.True(t, got.LearningResult.Updated)
}

func TestHandleStats(t *testing.T) {
	svc := &stubService{
		stats: &datatypes.SystemStats{Timeframe: "24h", TotalQueries: 7, ClustersTotal: 2},
	}
	router := queryRouter(svc)

	w := performRequest(router, "GET", "/api/v1/stats?timeframe=24h", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got datatypes.SystemStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.TotalQueries)
}

func TestHandleClusterDetails_NotFound(t *testing.T) {
	svc := &stubService{detailsErr: fmt.Errorf("cluster nope: %w", storage.ErrNotFound)}
	router := queryRouter(svc)

	w := performRequest(router, "GET", "/api/v1/clusters/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router := queryRouter(&stubService{})

	w := performRequest(router, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
