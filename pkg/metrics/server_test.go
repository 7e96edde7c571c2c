package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestServeMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.QueriesTotal.WithLabelValues("ok").Inc()

	srv := httptest.NewServer(NewServeMux(reg))
	defer srv.Close()

	status, body := get(t, srv.URL+"/metrics")
	if status != http.StatusOK || !strings.Contains(body, `rag_queries_total{outcome="ok"} 1`) {
		t.Errorf("/metrics = %d\n%s", status, body)
	}

	status, body = get(t, srv.URL+"/")
	if status != http.StatusOK || !strings.Contains(body, "<code>rag_queries_total</code>") {
		t.Errorf("index = %d\n%s", status, body)
	}
	if strings.Contains(body, "http_requests_total") {
		t.Error("index lists non-rag families")
	}

	if status, _ := get(t, srv.URL+"/nope"); status != http.StatusNotFound {
		t.Errorf("unknown path status = %d", status)
	}
}
