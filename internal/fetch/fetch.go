// Package fetch performs single-item resumable HTTP downloads: it probes
// the destination for a resume offset, issues ranged requests, classifies
// the response, and streams the body to disk in bounded chunks.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/rekku-dl/rekku/internal/progress"
	"github.com/rekku-dl/rekku/internal/utils"
)

type Executor struct {
	client  utils.HTTPDoer
	cfg     utils.Config
	tracker *progress.Tracker
	limiter *rate.Limiter
	policy  Policy
}

func NewExecutor(client utils.HTTPDoer, cfg utils.Config, tracker *progress.Tracker) *Executor {
	e := &Executor{
		client:  client,
		cfg:     cfg,
		tracker: tracker,
		policy:  DefaultPolicy(cfg.Retries),
	}
	if cfg.RateLimit > 0 {
		burst := int(max(cfg.RateLimit, utils.DefaultBufferSize))
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return e
}

// Fetch downloads one item to its resolved destination, retrying
// transient failures per the policy. The returned outcome is always
// terminal; a failure here never affects other items.
func (e *Executor) Fetch(ctx context.Context, id int, item utils.Item) utils.Outcome {
	outputPath, err := item.ResolvePath(e.cfg.Dir)
	if err != nil {
		return utils.Outcome{Status: utils.StatusFail, Err: err.Error()}
	}
	var st attemptState
	attempts, err := e.policy.Do(ctx, func() error {
		return e.attempt(ctx, id, item.URL, outputPath, &st)
	})
	out := utils.Outcome{Path: outputPath, Bytes: st.fileSize, Attempts: attempts}
	switch {
	case st.already:
		out.Status = utils.StatusAlreadyComplete
	case err == nil:
		out.Status = utils.StatusSuccess
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		out.Status = utils.StatusCancelled
		out.Err = err.Error()
	default:
		out.Status = utils.StatusFail
		out.Err = err.Error()
	}
	return out
}

// attemptState carries results across retry attempts of the same item.
type attemptState struct {
	already  bool
	fileSize int64
}

func (e *Executor) attempt(ctx context.Context, id int, url, outputPath string, st *attemptState) error {
	var offset int64
	if e.cfg.Resumable {
		e.tracker.SetStatus(id, utils.StatusProbing)
		if fileInfo, err := os.Stat(outputPath); err == nil {
			offset = fileInfo.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %v", err)
	}
	if e.cfg.Resumable {
		// The ranged GET doubles as the probe; custom headers (auth
		// included) ride along via the client wrapper.
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryable(fmt.Errorf("error executing GET request: %v", err))
	}
	defer resp.Body.Close()

	fileMode := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if offset > 0 {
			log.Debug().Str("op", "fetch").Int64("offset", offset).Msgf("Resuming download for %s", outputPath)
			e.tracker.SetStatus(id, utils.StatusResuming)
			fileMode = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			log.Warn().Str("op", "fetch").Msgf("Server ignored range request for %s, restarting from scratch", outputPath)
			e.tracker.SetStatus(id, utils.StatusRestarting)
		}
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Requested offset is at or past the resource size: the file on
		// disk is already complete. Not an error, nothing to write.
		st.already = true
		st.fileSize = offset
		return nil
	case e.retryableCode(resp.StatusCode):
		return retryable(&utils.ProtocolError{Code: resp.StatusCode})
	default:
		return &utils.ProtocolError{Code: resp.StatusCode}
	}

	// Content-Length of a 206 covers the remaining bytes only.
	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	outFile, err := os.OpenFile(outputPath, fileMode, 0644)
	if err != nil {
		return &utils.FilesystemError{Op: "opening output file", Err: err}
	}
	defer outFile.Close()

	e.tracker.SetStatus(id, utils.StatusDownloading)
	e.tracker.SyncBytes(id, offset, total)

	var written int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if e.limiter != nil {
				if err := e.limiter.WaitN(ctx, bytesRead); err != nil {
					return ctx.Err()
				}
			}
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return &utils.FilesystemError{Op: "writing to output file", Err: writeErr}
			}
			written += int64(bytesRead)
			e.tracker.ItemProgress(id, int64(bytesRead), total)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retryable(fmt.Errorf("error reading response body: %v", readErr))
		}
	}
	outFile.Sync()

	st.fileSize = offset + written
	if total >= 0 && st.fileSize != total {
		// The bytes already on disk stay as they are; a short stream is
		// reported, not retried.
		return &utils.SizeMismatchError{Want: total, Got: st.fileSize}
	}
	log.Debug().Str("op", "fetch").Int64("size", st.fileSize).Msgf("Download stream complete for %s", outputPath)
	return nil
}

func (e *Executor) retryableCode(code int) bool {
	if code >= 500 {
		return true
	}
	return slices.Contains(e.cfg.RetryStatusCodes, code)
}
