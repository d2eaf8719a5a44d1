// Package store persists self-play training data as parquet.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// TrainingRow is one supervised training sample: an encoded position, the
// normalized root visit distribution as the policy target, and the final game
// outcome from the row's player perspective as the value target.
//
// Encoding is the rule set's evaluator input planes, so trainers consume rows
// without knowing the rules.
type TrainingRow struct {
	GameID  string `parquet:"game_id,dict"`
	RuleSet string `parquet:"rule_set,dict"`
	Ply     int32  `parquet:"ply"`
	Player  int32  `parquet:"player"`

	Encoding []float32 `parquet:"encoding"`
	Policy   []float32 `parquet:"policy"`
	Value    float32   `parquet:"value"`

	Source string `parquet:"source,dict"`

	// ModelPath records the model that generated the game, for provenance.
	ModelPath string `parquet:"model_path,dict,optional"`
}

// WriteTrainingParquet writes rows with zstd compression, creating the output
// directory if needed. The file appears atomically via a tmp-file rename.
func WriteTrainingParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "training_v1"),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadTrainingParquet loads a file written by WriteTrainingParquet.
func ReadTrainingParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
