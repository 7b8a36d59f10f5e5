// Package config loads the immutable settings bundle threaded through every
// turret component constructor. Nothing downstream mutates it after Load.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the full, immutable configuration bundle for one turret process.
type Settings struct {
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Moonraker MoonrakerConfig `yaml:"moonraker"`
	Motion   MotionConfig   `yaml:"motion"`
	Aim      AimConfig      `yaml:"aim"`
	Search   SearchConfig   `yaml:"search"`
	Tracking TrackingConfig `yaml:"tracking"`
	Pattern  PatternConfig  `yaml:"pattern"`
	Safety   SafetyConfig   `yaml:"safety"`
	IMU      IMUConfig      `yaml:"imu"`
	Laser    LaserConfig    `yaml:"laser"`
	Vision   VisionConfig   `yaml:"vision"`
	Distance DistanceConfig `yaml:"distance"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MoonrakerConfig struct {
	URL            string        `yaml:"url"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type MotionConfig struct {
	RateHz           float64            `yaml:"rate_hz"`
	ZDeadbandMM      float64            `yaml:"z_deadband_mm"`
	FeedrateTravel   int                `yaml:"feedrate_travel"`
	FeedrateZ        int                `yaml:"feedrate_z"`
	Limits           AxisLimits         `yaml:"limits"`
	Neutral          AxisTargets        `yaml:"neutral"`
	AngularVelocity  map[string]float64 `yaml:"angular_velocity_deg_s"`
}

type AxisLimits struct {
	X [2]float64 `yaml:"x"`
	Y [2]float64 `yaml:"y"`
	Z [2]float64 `yaml:"z"`
}

type AxisTargets struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type AimConfig struct {
	LaserHeightM   float64 `yaml:"laser_height_m"`
	XRotationDist  float64 `yaml:"x_rotation_distance"`
	YRotationDist  float64 `yaml:"y_rotation_distance"`
	XSign          float64 `yaml:"x_sign"`
	YSign          float64 `yaml:"y_sign"`
}

type SearchConfig struct {
	MinZ      float64 `yaml:"min_z"`
	MaxZ      float64 `yaml:"max_z"`
	StartZ    float64 `yaml:"start_z"`
	Step      float64 `yaml:"step"`
	Direction int     `yaml:"direction"`
}

type TrackingConfig struct {
	FrameWidth    int     `yaml:"frame_width"`
	FrameHeight   int     `yaml:"frame_height"`
	DeadzonePx    float64 `yaml:"deadzone_px"`
	KP            float64 `yaml:"kp"`
	StepMaxMM     float64 `yaml:"step_max_mm"`
	StepMinMM     float64 `yaml:"step_min_mm"`
	ConfGate      float64 `yaml:"conf_gate"`
	LostThreshold int     `yaml:"lost_threshold"`
}

type PatternConfig struct {
	SideLengthM float64 `yaml:"side_length_m"`
	SpeedMMs    float64 `yaml:"speed_mm_s"`
	DwellS      float64 `yaml:"dwell_s"`
	CycleS      float64 `yaml:"cycle_s"` // estimated wall-clock time for one perimeter loop
}

type SafetyConfig struct {
	NConfirm           int           `yaml:"n_confirm"`
	NLost              int           `yaml:"n_lost"`
	BirdConfGate       float64       `yaml:"bird_conf_gate"`
	HumanConfGate      float64       `yaml:"human_conf_gate"`
	DMinM              float64       `yaml:"d_min_m"`
	DMaxM              float64       `yaml:"d_max_m"`
	DebounceWindow     time.Duration `yaml:"debounce_window"`
	RecenterThreshold  float64       `yaml:"recenter_threshold_px"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	SearchReset        bool          `yaml:"search_reset"`
}

type IMUConfig struct {
	Port            string        `yaml:"port"`
	BaudRate        int           `yaml:"baud_rate"`
	MountOffsetDeg  float64       `yaml:"mount_offset_deg"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
}

type LaserConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type VisionConfig struct {
	CameraURL       string        `yaml:"camera_url"`
	CameraTimeout   time.Duration `yaml:"camera_timeout"`
	InferenceURL    string        `yaml:"inference_url"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	ModelPath       string        `yaml:"model_path"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	UseTiling       bool          `yaml:"use_tiling"`
	TileGridRows    int           `yaml:"tile_grid_rows"`
	TileGridCols    int           `yaml:"tile_grid_cols"`
	TileOverlap     float64       `yaml:"tile_overlap"`
	IOUThreshold    float64       `yaml:"iou_threshold"`
}

// CalibrationPointConfig is one (row, distance) sample as it appears in YAML.
type CalibrationPointConfig struct {
	Row      float64 `yaml:"row"`
	Distance float64 `yaml:"distance"`
}

// DistanceConfig either names a persisted calibration record to load, or
// carries an inline bootstrap set of points for a fresh rig.
type DistanceConfig struct {
	StorePath     string                   `yaml:"store_path"`
	RecordName    string                   `yaml:"record_name"`
	InlinePoints  []CalibrationPointConfig `yaml:"inline_points"`
}

// Default returns the settings the corpus's own turret rig ships with,
// overridable by a config file and then by environment variables.
func Default() Settings {
	return Settings{
		Log:     LogConfig{Level: "info", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9108"},
		Moonraker: MoonrakerConfig{
			URL:            "ws://192.168.8.146/websocket",
			CallTimeout:    2 * time.Second,
			ReconnectDelay: 3 * time.Second,
		},
		Motion: MotionConfig{
			RateHz:         30,
			ZDeadbandMM:    0.02,
			FeedrateTravel: 5000,
			FeedrateZ:      1500,
			Limits: AxisLimits{
				X: [2]float64{0, 11.5},
				Y: [2]float64{0, 7.6},
				Z: [2]float64{0, 20},
			},
			Neutral:         AxisTargets{X: 5.75, Y: 3.8, Z: 10.0},
			AngularVelocity: map[string]float64{"x": 10, "y": 10},
		},
		Aim: AimConfig{
			LaserHeightM:  1.4097,
			XRotationDist: 40.0,
			YRotationDist: 40.0,
			XSign:         1,
			YSign:         1,
		},
		Search: SearchConfig{MinZ: 0, MaxZ: 20, StartZ: 10, Step: 1, Direction: 1},
		Tracking: TrackingConfig{
			FrameWidth: 640, FrameHeight: 480,
			DeadzonePx: 30, KP: 0.003,
			StepMaxMM: 3.0, StepMinMM: 0.05,
			ConfGate: 0.7, LostThreshold: 5,
		},
		Pattern: PatternConfig{SideLengthM: 0.6, SpeedMMs: 40, DwellS: 0.3, CycleS: 6.0},
		Safety: SafetyConfig{
			NConfirm: 5, NLost: 5, BirdConfGate: 0.7, HumanConfGate: 0.5,
			DMinM: 1.0, DMaxM: 12.0,
			DebounceWindow: 4 * time.Second, RecenterThreshold: 60,
			StaleAfter: 500 * time.Millisecond, SearchReset: true,
		},
		IMU: IMUConfig{Port: "/dev/ttyUSB0", BaudRate: 115200, ReadTimeout: 250 * time.Millisecond},
		Laser: LaserConfig{BaseURL: "http://192.168.8.147", Timeout: 2 * time.Second},
		Vision: VisionConfig{
			CameraURL: "http://192.168.8.150/frame", CameraTimeout: 2 * time.Second,
			InferenceURL: "http://192.168.8.151:8000/infer", InferenceTimeout: 2 * time.Second,
			PollInterval: 100 * time.Millisecond,
			StaleAfter:   500 * time.Millisecond,
			UseTiling:    true,
			TileGridRows: 2, TileGridCols: 2, TileOverlap: 0.2, IOUThreshold: 0.5,
		},
		Distance: DistanceConfig{
			StorePath:  "calibration.json",
			RecordName: "default",
			InlinePoints: []CalibrationPointConfig{
				{Row: 50, Distance: 20}, {Row: 100, Distance: 14},
				{Row: 180, Distance: 9}, {Row: 260, Distance: 6},
				{Row: 340, Distance: 4}, {Row: 420, Distance: 2.5},
			},
		},
	}
}

// Load reads a YAML config file over the defaults, then applies a .env file
// (if present) to string env vars the caller can still override with flags.
func Load(path string) (Settings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load() // best-effort; missing .env is not an error

	if url := os.Getenv("TURRET_MOONRAKER_URL"); url != "" {
		settings.Moonraker.URL = url
	}
	if url := os.Getenv("TURRET_LASER_URL"); url != "" {
		settings.Laser.BaseURL = url
	}

	return settings, nil
}
