package orchestrator

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/dataparency-dev/verification-core/types"
)

var (
	contentEncoder, _ = zstd.NewWriter(nil)
	contentDecoder, _ = zstd.NewReader(nil)
)

// compressLargeContent zstd-compresses a task's content payload once it
// crosses the configured inline-storage threshold (spec §4.9 Design Notes
// "Large content"), so the in-memory task table doesn't hold multi-megabyte
// task payloads uncompressed for the task's entire lifetime. Callers
// that publish the task onward (e.g. events.TopicTaskCreated) should use the
// pre-compression copy so downstream subscribers see the real payload.
func compressLargeContent(task types.VerificationTask, threshold int) types.VerificationTask {
	if task.ContentCompressed || threshold <= 0 || len(task.Content) <= threshold {
		return task
	}
	task.Content = contentEncoder.EncodeAll(task.Content, make([]byte, 0, len(task.Content)/2))
	task.ContentCompressed = true
	return task
}

// decompressContent reverses compressLargeContent, used wherever a stored
// task's real content bytes are needed again (spec §4.9 Design Notes "Large
// content").
func decompressContent(task types.VerificationTask) (types.VerificationTask, error) {
	if !task.ContentCompressed {
		return task, nil
	}
	raw, err := contentDecoder.DecodeAll(task.Content, nil)
	if err != nil {
		return task, fmt.Errorf("decompress task %s content: %w", task.TaskID, err)
	}
	task.Content = raw
	task.ContentCompressed = false
	return task, nil
}
