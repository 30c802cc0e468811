package common

import "time"

const (
	// TileSize is the default edge length of a distributed tile.
	TileSize = 256
	// Halo is the ring of input pixels a tile needs around its output region.
	Halo = 1
)

// ImageTile is one unit of distributed work. X, Y, Width and Height describe
// the output region in image coordinates; Data holds the input window, which is
// the region grown by Halo on every side. RunID ties the tile to the ImageInfo
// it was cut for, since image ids are reused between runs.
type ImageTile struct {
	ImageID int     `json:"image_id"`
	RunID   string  `json:"run_id"`
	TileID  int     `json:"tile_id"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Mode    string  `json:"mode"`
	Data    []uint8 `json:"data"`
}

// WindowRows and WindowCols are the dimensions of Data.
func (t *ImageTile) WindowRows() int { return t.Height + 2*Halo }
func (t *ImageTile) WindowCols() int { return t.Width + 2*Halo }

// ProcessedImageTile carries the gradient of a tile's output region. Exactly
// one of Clamped and Magnitudes is set, according to Mode.
type ProcessedImageTile struct {
	ImageID    int       `json:"image_id"`
	RunID      string    `json:"run_id"`
	TileID     int       `json:"tile_id"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Mode       string    `json:"mode"`
	Clamped    []uint8   `json:"clamped,omitempty"`
	Magnitudes []float64 `json:"magnitudes,omitempty"`
}

type ImageInfo struct {
	ID            int       `json:"id"`
	RunID         string    `json:"run_id"`
	InputPath     string    `json:"input_path"`
	OutputPath    string    `json:"output_path"`
	Rows          int       `json:"rows"`
	Cols          int       `json:"cols"`
	Mode          string    `json:"mode"`
	MaxDim        int       `json:"max_dim"`
	ExpectedTiles int       `json:"expected_tiles"`
	StartTime     time.Time `json:"start_time"`
}

type JobMessage struct {
	Type      string     `json:"type"`
	ImageTile *ImageTile `json:"image_tile,omitempty"`
}

type ResultMessage struct {
	ProcessedTile *ProcessedImageTile `json:"processed_tile"`
	WorkerID      string              `json:"worker_id"`
	ProcessTime   float64             `json:"process_time"`
}

// Verdict records how an assembled image compared with the sequential reference.
// Error is set when the comparison could not be made; Pass is then false.
type Verdict struct {
	ImageID      int       `json:"image_id"`
	RunID        string    `json:"run_id"`
	MaxDeviation float64   `json:"max_deviation"`
	Tolerance    float64   `json:"tolerance"`
	Pass         bool      `json:"pass"`
	Error        string    `json:"error,omitempty"`
	Elapsed      float64   `json:"elapsed"`
	CompletedAt  time.Time `json:"completed_at"`
}
