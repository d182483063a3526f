// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/classfile/classtest"
	apperr "github.com/dotandev/tailrec/internal/errors"
	"github.com/gorilla/rpc/v2/json2"
)

// static int count(int n, int acc)
func countClass() []byte {
	b := classtest.New("demo/Count", classfile.AccPublic)
	self := b.Methodref("demo/Count", "count", "(II)I")
	b.Method(classfile.AccStatic, "count", "(II)I", &classtest.Code{
		MaxStack:  3,
		MaxLocals: 2,
		Bytes: []byte{
			0x1a, 0x9a, 0x00, 0x05,
			0x1b, 0xac,
			0x1a, 0x04, 0x64, 0x1b, 0x04, 0x60,
			0xb8, byte(self >> 8), byte(self), 0xac,
		},
		Attrs: []classtest.Attr{classtest.StackMap(1, 6)},
	})
	return b.Bytes()
}

// wireClassResponse mirrors OptimizeClassResponse with verdicts as text.
type wireClassResponse struct {
	Class     string   `json:"class"`
	Changed   bool     `json:"changed"`
	Rewritten []string `json:"rewritten"`
	Methods   []struct {
		Name    string `json:"name"`
		Verdict string `json:"verdict"`
	} `json:"methods"`
	Data string `json:"data"`
}

type wireDirResponse struct {
	RunID     string `json:"run_id"`
	Rewritten int    `json:"rewritten"`
	Methods   int    `json:"methods"`
	Failed    int    `json:"failed"`
}

func call(t *testing.T, url, token, method string, args, reply interface{}) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/rpc", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	return json2.DecodeClientResponse(resp.Body, reply)
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	handler, err := NewServer(cfg).Handler()
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_OptimizeClass(t *testing.T) {
	ts := newTestServer(t, Config{})

	var resp wireClassResponse
	err := call(t, ts.URL, "", ServiceName+".OptimizeClass", &OptimizeClassRequest{
		Name: "Count.class",
		Data: base64.StdEncoding.EncodeToString(countClass()),
	}, &resp)
	if err != nil {
		t.Fatalf("OptimizeClass failed: %v", err)
	}

	if resp.Class != "demo/Count" {
		t.Errorf("Expected class demo/Count, got %q", resp.Class)
	}
	if !resp.Changed {
		t.Error("Expected the class to be rewritten")
	}
	if len(resp.Methods) != 1 || resp.Methods[0].Verdict != "rewritten" {
		t.Errorf("Unexpected verdicts: %+v", resp.Methods)
	}
	out, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		t.Fatalf("Bad output encoding: %v", err)
	}
	if bytes.Equal(out, countClass()) {
		t.Error("Expected output to differ from input")
	}
}

func TestServer_OptimizeClass_BadInput(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name string
		data string
	}{
		{"not base64", "%%%"},
		{"not a class", base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp wireClassResponse
			err := call(t, ts.URL, "", ServiceName+".OptimizeClass", &OptimizeClassRequest{Data: tt.data}, &resp)
			var jerr *json2.Error
			if !errors.As(err, &jerr) {
				t.Fatalf("Expected json2 error, got %v", err)
			}
			if jerr.Code != json2.E_BAD_PARAMS {
				t.Errorf("Expected E_BAD_PARAMS, got %d", jerr.Code)
			}
		})
	}
}

func TestServer_OptimizeDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Count.class")
	if err := os.WriteFile(path, countClass(), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Bad.class"), []byte{0xca, 0xfe}, 0644); err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, Config{AuthToken: "secret123"})

	var resp wireDirResponse
	err := call(t, ts.URL, "secret123", ServiceName+".OptimizeDir", &OptimizeDirRequest{Roots: []string{dir}, DryRun: true}, &resp)
	if err != nil {
		t.Fatalf("OptimizeDir failed: %v", err)
	}
	if resp.Rewritten != 1 || resp.Methods != 1 || resp.Failed != 1 {
		t.Errorf("Unexpected summary: %+v", resp)
	}
	if resp.RunID == "" {
		t.Error("Expected a run id")
	}

	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, countClass()) {
		t.Error("Dry run must not modify files")
	}

	err = call(t, ts.URL, "secret123", ServiceName+".OptimizeDir", &OptimizeDirRequest{}, &resp)
	if err == nil {
		t.Error("Expected error for empty roots")
	}
}

func TestServer_OptimizeDir_RequiresToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Count.class")
	if err := os.WriteFile(path, countClass(), 0644); err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, Config{})

	var resp wireDirResponse
	err := call(t, ts.URL, "", ServiceName+".OptimizeDir", &OptimizeDirRequest{Roots: []string{dir}}, &resp)
	if err == nil {
		t.Fatal("Expected OptimizeDir to be refused without an auth token")
	}
	if !strings.Contains(err.Error(), "auth token") {
		t.Errorf("Unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, countClass()) {
		t.Error("Refused call must not modify files")
	}

	req := httptest.NewRequest("POST", "/rpc", nil)
	err = NewServer(Config{}).OptimizeDir(req, &OptimizeDirRequest{Roots: []string{dir}}, &OptimizeDirResponse{})
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestServer_Addr(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"", "127.0.0.1:8080"},
		{"0.0.0.0", "0.0.0.0:8080"},
		{"::1", "[::1]:8080"},
	}
	for _, tt := range tests {
		if got := NewServer(Config{Host: tt.host}).Addr("8080"); got != tt.want {
			t.Errorf("Addr() with host %q = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestServer_Authentication(t *testing.T) {
	server := NewServer(Config{AuthToken: "secret123"})

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"missing", "", false},
		{"bearer", "Bearer secret123", true},
		{"raw token", "secret123", true},
		{"wrong", "Bearer nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/rpc", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := server.authenticate(req); got != tt.want {
				t.Errorf("authenticate() = %v, want %v", got, tt.want)
			}
		})
	}

	req := httptest.NewRequest("POST", "/rpc", nil)
	var resp OptimizeClassResponse
	err := server.OptimizeClass(req, &OptimizeClassRequest{Data: ""}, &resp)
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestServer_AuthenticationOverHTTP(t *testing.T) {
	ts := newTestServer(t, Config{AuthToken: "secret123"})
	args := &OptimizeClassRequest{Data: base64.StdEncoding.EncodeToString(countClass())}

	var resp wireClassResponse
	if err := call(t, ts.URL, "", ServiceName+".OptimizeClass", args, &resp); err == nil {
		t.Error("Expected unauthenticated call to fail")
	}
	if err := call(t, ts.URL, "secret123", ServiceName+".OptimizeClass", args, &resp); err != nil {
		t.Errorf("Authenticated call failed: %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, Config{Version: "v1.2.3"})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "v1.2.3" {
		t.Errorf("Unexpected health body: %v", body)
	}
}

func TestServer_StartStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(Config{}).Start(ctx, "0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
