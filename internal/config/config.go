// Package config provides YAML-based arena tuning: the simulation
// constants every peer must share and the rollback session settings.
package config

// ArenaConfig is the on-disk arena configuration.
type ArenaConfig struct {
	Runtime RuntimeSection         `yaml:"runtime" json:"runtime"`
	Map     MapSection             `yaml:"map" json:"map"`
	Vehicle VehicleSection         `yaml:"vehicle" json:"vehicle"`
	Horde   HordeSection           `yaml:"horde" json:"horde"`
	Player  PlayerSection          `yaml:"player" json:"player"`
	Kinds   map[string]KindSection `yaml:"kinds" json:"kinds"`
	Session SessionSection         `yaml:"session" json:"session"`
}

// RuntimeSection holds round-wide settings.
type RuntimeSection struct {
	TickRate int   `yaml:"tick_rate" json:"tick_rate"`
	Seed     int64 `yaml:"seed" json:"seed"`
	Players  int   `yaml:"players" json:"players"`
	Workers  int   `yaml:"workers" json:"workers"` // force workers; never affects results
}

// MapSection is the play area and its spatial index.
type MapSection struct {
	Width    float32 `yaml:"width" json:"width"`
	Height   float32 `yaml:"height" json:"height"`
	CellSize float32 `yaml:"cell_size" json:"cell_size"`
}

// VehicleSection tunes player ship handling.
type VehicleSection struct {
	RotationSpeed float32 `yaml:"rotation_speed" json:"rotation_speed"` // radians per second
	Acceleration  float32 `yaml:"acceleration" json:"acceleration"`
	MaxSpeed      float32 `yaml:"max_speed" json:"max_speed"`
	Friction      float32 `yaml:"friction" json:"friction"`
	Drift         float32 `yaml:"drift" json:"drift"`
}

// HordeSection controls creature spawning and behavior.
type HordeSection struct {
	Count             int      `yaml:"count" json:"count"`
	Kinds             []string `yaml:"kinds" json:"kinds"`
	SizeMin           float32  `yaml:"size_min" json:"size_min"`
	SizeMax           float32  `yaml:"size_max" json:"size_max"`
	FollowMin         float32  `yaml:"follow_min" json:"follow_min"`
	FollowMax         float32  `yaml:"follow_max" json:"follow_max"`
	CollectDistance   float32  `yaml:"collect_distance" json:"collect_distance"`
	TargetDistance    float32  `yaml:"target_distance" json:"target_distance"`
	Health            int32    `yaml:"health" json:"health"`
	AttackCooldownSec float32  `yaml:"attack_cooldown_sec" json:"attack_cooldown_sec"`
}

// PlayerSection controls player ships and bullets.
type PlayerSection struct {
	Health          int32   `yaml:"health" json:"health"`
	Size            float32 `yaml:"size" json:"size"`
	RespawnSec      float32 `yaml:"respawn_sec" json:"respawn_sec"`
	BulletSpeed     float32 `yaml:"bullet_speed" json:"bullet_speed"`
	BulletFlightSec float32 `yaml:"bullet_flight_sec" json:"bullet_flight_sec"`
}

// KindSection is one row of the flocking weight table.
type KindSection struct {
	Vision     float32 `yaml:"vision" json:"vision"`
	Avoidance  float32 `yaml:"avoidance" json:"avoidance"`
	Cohesion   float32 `yaml:"cohesion" json:"cohesion"`
	Separation float32 `yaml:"separation" json:"separation"`
	Alignment  float32 `yaml:"alignment" json:"alignment"`
	Chase      float32 `yaml:"chase" json:"chase"`
	Speed      float32 `yaml:"speed" json:"speed"`
}

// SessionSection holds rollback session settings.
type SessionSection struct {
	MaxPrediction           int `yaml:"max_prediction" json:"max_prediction"`
	InputDelay              int `yaml:"input_delay" json:"input_delay"`
	CheckDistance           int `yaml:"check_distance" json:"check_distance"`
	DisconnectTimeoutFrames int `yaml:"disconnect_timeout_frames" json:"disconnect_timeout_frames"`
}
