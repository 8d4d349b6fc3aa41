//go:build integration

package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/collectica/zipserve/internal/admission"
	"github.com/collectica/zipserve/internal/archive"
	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/estimate"
	"github.com/collectica/zipserve/internal/fetch"
	"github.com/collectica/zipserve/internal/locator"
	"github.com/collectica/zipserve/internal/progress"
	"github.com/collectica/zipserve/internal/server"
	"github.com/collectica/zipserve/internal/testutils"
)

// TestServerIntegration runs the full stack against a real S3-style
// media store and a fake upstream image server.
func TestServerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinio(t, ctx, "zipserve-media")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	media, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open media bucket: %v", err)
	}
	defer media.Close()

	remoteImage := bytes.Repeat([]byte("iiif"), 50000)
	images := testutils.StartImageServer(t,
		map[string][]byte{
			"/iiif/2/leaf2/full/max/0/default.jpg": remoteImage,
		},
		nil,
	)
	defer images.Close()

	item := &catalog.Item{
		ID:    42,
		Title: "Field Notes",
		Media: []catalog.Media{
			{ID: 1, ItemID: 42, StorageID: "leaf1", Filename: "leaf1.jpg", Extension: "jpg", HasOriginal: true},
			{ID: 2, ItemID: 42, Source: images.URL + "/iiif/2/leaf2"},
		},
	}
	testutils.SeedItem(t, ctx, media, item)
	testutils.SeedOriginal(t, ctx, media, "leaf1", "jpg", 300000)

	state, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open state bucket: %v", err)
	}
	defer state.Close()

	fetcher := fetch.NewFetcher(fetch.DefaultOptions())
	store := progress.NewStore(state, time.Hour)
	cat := catalog.NewBlobCatalog(media)
	loc := locator.New(media, fetcher)
	est := estimate.New(media, loc, fetcher)
	adm := admission.New(store, admission.Limits{})
	builder := archive.NewBuilder(media, loc, fetcher, store)
	srv := server.New(cat, est, adm, builder, store, server.Options{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	t.Run("estimate", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/download/estimate", url.Values{
			"media_ids": {"1,2"},
		})
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var got struct {
			TotalBytes int64 `json:"total_bytes"`
			TotalFiles int   `json:"total_files"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.TotalFiles != 2 {
			t.Errorf("total_files = %d, want 2", got.TotalFiles)
		}
		if got.TotalBytes != 300000+int64(len(remoteImage)) {
			t.Errorf("total_bytes = %d", got.TotalBytes)
		}
	})

	t.Run("download", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/download/item/42", url.Values{
			"media_ids":      {"1,2"},
			"progress_token": {"integration-token"},
		})
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			t.Fatalf("open zip: %v", err)
		}
		if len(zr.File) != 2 {
			t.Fatalf("entries = %d, want 2", len(zr.File))
		}

		rc, err := zr.File[1].Open()
		if err != nil {
			t.Fatalf("open remote entry: %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read remote entry: %v", err)
		}
		if !bytes.Equal(got, remoteImage) {
			t.Error("remote entry bytes differ from upstream image")
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/download/status?token=integration-token")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		var rec progress.Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Status != progress.StatusDone {
			t.Errorf("status = %q, want done", rec.Status)
		}
	})
}
