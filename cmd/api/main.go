package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"coaching-insights-go/internal/analysis"
	"coaching-insights-go/internal/chunker"
	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/dataset"
	"coaching-insights-go/internal/gateway"
	"coaching-insights-go/internal/indexer"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/retriever"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/tier"
	"coaching-insights-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "coaching-insights-go").Info("starting service")

	cfg := config.Load()

	st, err := store.New(log)
	if err != nil {
		log.WithError(err).Fatal("failed to init store")
	}
	gw := gateway.New(cfg, log)
	chk := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	ix := indexer.New(st, gw, gw, cfg, log)
	sel := tier.NewSelector(st, cfg)
	orch := analysis.NewOrchestrator(st, gw, cfg, log)
	ret := retriever.New(st, cfg, log)

	ingest := func(r *http.Request, tr types.Transcript) (types.Transcript, int, error) {
		stored, err := st.PutTranscript(tr)
		if err != nil {
			return types.Transcript{}, 0, err
		}
		chunks, err := st.ReplaceChunks(r.Context(), stored.ID, chk.Chunk(stored.Text))
		if err != nil {
			return types.Transcript{}, 0, err
		}
		return stored, len(chunks), nil
	}

	// optionally preload transcripts from an xlsx export
	if dataPath := os.Getenv("DATASET_PATH"); dataPath != "" {
		log.WithField("dataset_path", dataPath).Info("loading dataset")
		transcripts, err := dataset.Load(dataPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load dataset")
		}
		for _, tr := range transcripts {
			stored, err := st.PutTranscript(tr)
			if err != nil {
				log.WithField("transcript_id", tr.ID).WithError(err).Warn("skipping dataset row")
				continue
			}
			if _, err := st.ReplaceChunks(context.Background(), stored.ID, chk.Chunk(stored.Text)); err != nil {
				log.WithField("transcript_id", stored.ID).WithError(err).Warn("chunking failed")
			}
		}
		log.WithField("total_calls", len(transcripts)).Info("dataset loaded")
	}

	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Info("health check")
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/transcripts", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "transcripts")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var tr types.Transcript
		if err := json.NewDecoder(r.Body).Decode(&tr); err != nil {
			reqLog.WithError(err).Warn("bad transcript payload")
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		stored, chunkCount, err := ingest(r, tr)
		if err != nil {
			reqLog.WithError(err).Warn("transcript rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqLog.WithField("transcript_id", stored.ID).WithField("chunks", chunkCount).Info("transcript stored")
		writeJSON(w, reqLog, map[string]any{"transcript": stored, "chunk_count": chunkCount})
	})

	mux.HandleFunc("/dataset/import", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "dataset_import")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := r.URL.Query().Get("path")
		if path == "" {
			http.Error(w, "missing path", http.StatusBadRequest)
			return
		}
		transcripts, err := dataset.Load(path)
		if err != nil {
			reqLog.WithError(err).Error("dataset load error")
			http.Error(w, "dataset load error", http.StatusInternalServerError)
			return
		}
		imported, skipped := 0, 0
		for _, tr := range transcripts {
			if _, _, err := ingest(r, tr); err != nil {
				reqLog.WithField("transcript_id", tr.ID).WithError(err).Warn("skipping dataset row")
				skipped++
				continue
			}
			imported++
		}
		reqLog.WithField("imported", imported).WithField("skipped", skipped).Info("dataset imported")
		writeJSON(w, reqLog, map[string]any{"imported": imported, "skipped": skipped})
	})

	mux.HandleFunc("/index/health", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "index_health")
		writeJSON(w, reqLog, st.Health(idsParam(r)))
	})

	mux.HandleFunc("/backfills", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "backfills")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		kind := types.JobKind(r.URL.Query().Get("kind"))
		if kind != types.JobEmbedding && kind != types.JobEntityExtraction {
			http.Error(w, "kind must be embedding or entity_extraction", http.StatusBadRequest)
			return
		}
		job := ix.StartBackfill(r.Context(), kind, indexer.Selector{
			TranscriptIDs: idsParam(r),
			RetryFailed:   r.URL.Query().Get("retry_failed") == "true",
		})
		reqLog.WithField("job_id", job.ID).WithField("job_kind", string(kind)).WithField("total", job.Total).Info("backfill accepted")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, reqLog, job)
	})

	mux.HandleFunc("/backfills/status", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "backfill_status")
		job, stalled, ok := ix.Progress(r.URL.Query().Get("job_id"))
		if !ok {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		writeJSON(w, reqLog, map[string]any{"job": job, "stalled": stalled})
	})

	mux.HandleFunc("/backfills/cancel", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "backfill_cancel")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		jobID := r.URL.Query().Get("job_id")
		if !ix.Cancel(jobID) {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		reqLog.WithField("job_id", jobID).Info("cancel requested")
		writeJSON(w, reqLog, map[string]any{"cancel_requested": true})
	})

	mux.HandleFunc("/backfills/stalled", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "backfills_stalled")
		writeJSON(w, reqLog, ix.StalledJobs())
	})

	mux.HandleFunc("/analysis/preview", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "analysis_preview")
		var preview tier.Preview
		if ids := idsParam(r); len(ids) > 0 {
			preview = sel.PreviewIDs(ids)
		} else {
			from, to := rangeParams(r)
			preview = sel.PreviewScope(r.URL.Query().Get("rep_id"), from, to)
		}
		reqLog.WithField("call_count", preview.CallCount).WithField("tier", string(preview.Tier)).Info("tier preview")
		writeJSON(w, reqLog, preview)
	})

	mux.HandleFunc("/analysis/report", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "analysis_report")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			TranscriptIDs []string           `json:"transcript_ids"`
			RepID         string             `json:"rep_id"`
			From          string             `json:"from"`
			To            string             `json:"to"`
			PreviewTier   types.AnalysisTier `json:"preview_tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		req := analysis.Request{
			TranscriptIDs: body.TranscriptIDs,
			RepID:         body.RepID,
			From:          parseDay(body.From),
			To:            parseDay(body.To),
			PreviewTier:   body.PreviewTier,
		}
		start := time.Now()
		report, err := orch.Run(r.Context(), req)
		reqLog.WithField("duration_ms", time.Since(start).Milliseconds()).Info("analysis finished")
		if err != nil {
			reqLog.WithError(err).Warn("analysis failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, reqLog, report)
	})

	mux.HandleFunc("/retrieve", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "retrieve")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Query         string    `json:"query"`
			Embedding     []float32 `json:"embedding"`
			TranscriptIDs []string  `json:"transcript_ids"`
			TokenBudget   int       `json:"token_budget"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		emb := body.Embedding
		if len(emb) == 0 {
			if strings.TrimSpace(body.Query) == "" {
				http.Error(w, "query or embedding required", http.StatusBadRequest)
				return
			}
			var err error
			if emb, err = gw.Embed(r.Context(), body.Query); err != nil {
				reqLog.WithError(err).Warn("query embedding failed")
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
		}
		res, err := ret.Retrieve(r.Context(), emb, body.TranscriptIDs, body.TokenBudget)
		if err != nil {
			reqLog.WithError(err).Warn("retrieval failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		reqLog.WithField("chunks", len(res.Chunks)).WithField("low_confidence", res.LowConfidence).Info("retrieval finished")
		writeJSON(w, reqLog, res)
	})

	addr := fmt.Sprintf(":%s", config.EnvOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to write response")
	}
}

func idsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("transcript_ids")
	if raw == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func rangeParams(r *http.Request) (time.Time, time.Time) {
	return parseDay(r.URL.Query().Get("from")), parseDay(r.URL.Query().Get("to"))
}

func parseDay(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}
