package config

// Config is the on-disk, hot-reloadable compositor configuration. Its
// fields translate onto session.Config's engine tunables via ToSession
// (config.go, the one place this package uses internal/session); a Config
// itself can be loaded before any session exists.
type Config struct {
	FadeInStep  float64 `json:"fade_in_step" yaml:"fade_in_step" toml:"fade_in_step"`
	FadeOutStep float64 `json:"fade_out_step" yaml:"fade_out_step" toml:"fade_out_step"`
	FadeDeltaMs int     `json:"fade_delta_ms" yaml:"fade_delta_ms" toml:"fade_delta_ms"`

	ActiveOpacity           float64 `json:"active_opacity" yaml:"active_opacity" toml:"active_opacity"`
	InactiveOpacity         float64 `json:"inactive_opacity" yaml:"inactive_opacity" toml:"inactive_opacity"`
	InactiveOpacityOverride bool    `json:"inactive_opacity_override" yaml:"inactive_opacity_override" toml:"inactive_opacity_override"`

	Shadow        bool    `json:"shadow" yaml:"shadow" toml:"shadow"`
	ShadowRadius  int     `json:"shadow_radius" yaml:"shadow_radius" toml:"shadow_radius"`
	ShadowOpacity float64 `json:"shadow_opacity" yaml:"shadow_opacity" toml:"shadow_opacity"`
	ShadowOffsetX int     `json:"shadow_offset_x" yaml:"shadow_offset_x" toml:"shadow_offset_x"`
	ShadowOffsetY int     `json:"shadow_offset_y" yaml:"shadow_offset_y" toml:"shadow_offset_y"`
	ShadowRed     float64 `json:"shadow_red" yaml:"shadow_red" toml:"shadow_red"`
	ShadowGreen   float64 `json:"shadow_green" yaml:"shadow_green" toml:"shadow_green"`
	ShadowBlue    float64 `json:"shadow_blue" yaml:"shadow_blue" toml:"shadow_blue"`

	BlurBackgroundFixed bool `json:"blur_background_fixed" yaml:"blur_background_fixed" toml:"blur_background_fixed"`
	BlurKernelPasses    int  `json:"blur_kernel_passes" yaml:"blur_kernel_passes" toml:"blur_kernel_passes"`

	InactiveDim      float64 `json:"inactive_dim" yaml:"inactive_dim" toml:"inactive_dim"`
	InactiveDimFixed bool    `json:"inactive_dim_fixed" yaml:"inactive_dim_fixed" toml:"inactive_dim_fixed"`

	UnredirIfPossible bool `json:"unredir_if_possible" yaml:"unredir_if_possible" toml:"unredir_if_possible"`
	UnredirDelayMs    int  `json:"unredir_delay_ms" yaml:"unredir_delay_ms" toml:"unredir_delay_ms"`

	TrackFocus      bool `json:"track_focus" yaml:"track_focus" toml:"track_focus"`
	SWOpacity       bool `json:"sw_opacity" yaml:"sw_opacity" toml:"sw_opacity"`
	Benchmark       bool `json:"benchmark" yaml:"benchmark" toml:"benchmark"`
	BenchmarkPaints int  `json:"benchmark_paints" yaml:"benchmark_paints" toml:"benchmark_paints"`
	RefreshRate     int  `json:"refresh_rate" yaml:"refresh_rate" toml:"refresh_rate"`

	// The four rule-list strings below are decoded and stored but not read
	// by any other package: the matcher hooks wired in cmd/xcompd and the
	// preprocess/paint passes query the evaluator under fixed list names
	// ("no-fade", "shadow-exclude", "paint-exclude", ...). The rule
	// language itself is an out-of-scope collaborator, so this package
	// never parses them.
	OpacityRuleList        string `json:"opacity_rule_list" yaml:"opacity_rule_list" toml:"opacity_rule_list"`
	ShadowExcludeRuleList   string `json:"shadow_exclude_rule_list" yaml:"shadow_exclude_rule_list" toml:"shadow_exclude_rule_list"`
	PaintExcludeRuleList    string `json:"paint_exclude_rule_list" yaml:"paint_exclude_rule_list" toml:"paint_exclude_rule_list"`
	UnredirExcludeRuleList  string `json:"unredir_exclude_rule_list" yaml:"unredir_exclude_rule_list" toml:"unredir_exclude_rule_list"`

	PidFile string `json:"pid_file" yaml:"pid_file" toml:"pid_file"`
}

var defaultConfig = Config{
	FadeInStep:      0.028,
	FadeOutStep:     0.03,
	FadeDeltaMs:     10,
	ActiveOpacity:   1.0,
	InactiveOpacity: 1.0,
	Shadow:          true,
	ShadowRadius:    12,
	ShadowOpacity:   0.75,
	ShadowOffsetX:   -15,
	ShadowOffsetY:   -15,
	RefreshRate:     60,
}
