// Package errors provides structured error handling for PubVec.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: fetch errors (PubMed search and fetch)
//   - 2XX: parse errors (PubMed XML)
//   - 3XX: chunk errors
//   - 4XX: embed errors
//   - 5XX: store errors
//   - 6XX: pipeline errors (config, checkpoint, internal)
package errors

// Stage identifies the pipeline stage an error belongs to.
// Stage names appear verbatim in logs, job summaries, and the checkpoint.
type Stage string

const (
	// StageFetch covers PubMed esearch and efetch calls.
	StageFetch Stage = "fetch"
	// StageParse covers PubMed XML parsing.
	StageParse Stage = "parse"
	// StageChunk covers chunking of parsed articles.
	StageChunk Stage = "chunk"
	// StageEmbed covers embedding generation.
	StageEmbed Stage = "embed"
	// StageStore covers vector store writes.
	StageStore Stage = "store"
	// StagePipeline covers everything outside the five data stages.
	StagePipeline Stage = "pipeline"
)

// Error codes organized by stage.
const (
	// Fetch errors (100-199)
	ErrCodeSearchFailed = "ERR_101_SEARCH_FAILED"
	ErrCodeFetchFailed  = "ERR_102_FETCH_FAILED"
	ErrCodeProtocol     = "ERR_103_PROTOCOL"
	ErrCodeNetwork      = "ERR_104_NETWORK"

	// Parse errors (200-299)
	ErrCodeParseFailed = "ERR_201_PARSE_FAILED"
	ErrCodeMissingPMID = "ERR_202_MISSING_PMID"
	ErrCodeTruncated   = "ERR_203_TRUNCATED_ELEMENT"

	// Chunk errors (300-399)
	ErrCodeChunkFailed   = "ERR_301_CHUNK_FAILED"
	ErrCodeEmptyAbstract = "ERR_302_EMPTY_ABSTRACT"

	// Embed errors (400-499)
	ErrCodeEmbedFailed       = "ERR_401_EMBED_FAILED"
	ErrCodeRateLimited       = "ERR_402_RATE_LIMITED"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"

	// Store errors (500-599)
	ErrCodeStoreFailed  = "ERR_501_STORE_FAILED"
	ErrCodeStoreTimeout = "ERR_502_STORE_TIMEOUT"
	ErrCodeStoreEdge    = "ERR_503_STORE_EDGE"

	// Pipeline errors (600-699)
	ErrCodeConfigInvalid    = "ERR_601_CONFIG_INVALID"
	ErrCodeCheckpointFailed = "ERR_602_CHECKPOINT_FAILED"
	ErrCodeInternal         = "ERR_603_INTERNAL"
)

// stageFromCode extracts the pipeline stage from an error code.
func stageFromCode(code string) Stage {
	if len(code) < 7 {
		return StagePipeline
	}

	// Numeric portion, e.g. "101" from "ERR_101_SEARCH_FAILED"
	switch code[4] {
	case '1':
		return StageFetch
	case '2':
		return StageParse
	case '3':
		return StageChunk
	case '4':
		return StageEmbed
	case '5':
		return StageStore
	default:
		return StagePipeline
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetwork, ErrCodeRateLimited, ErrCodeStoreTimeout, ErrCodeStoreEdge:
		return true
	default:
		return false
	}
}
