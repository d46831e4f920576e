package elections

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/koding/multiconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tie break policies for single winner elections.
const (
	TieBreakRandom       = "random"
	TieBreakAdminDecides = "admin_decides"
	TieBreakReElection   = "re_election"
)

// Config uses the multiconfig loader and validators to store configuration
// values required to run the election engine. Configuration can be stored as
// a JSON, TOML, or YAML file in the current working directory as
// elections.json, in the user's home directory as .elections.json or in
// /etc/elections.json (with the extension of the file format of choice).
// Configuration can also be added from the environment using environment
// variables prefixed with $ELECTIONS_ and the all caps version of the
// configuration name.
type Config struct {
	Seed       int64  `required:"false" json:"seed"`                        // random seed for tie breaks, time based by default
	DataDir    string `default:"data" validate:"path" json:"data_dir"`      // directory of the file store
	Database   string `required:"false" validate:"url" json:"database"`     // sqlite:// or postgres:// DSN, overrides the file store
	LogLevel   string `default:"info" validate:"loglevel" json:"log_level"` // minimum level of log messages
	ConsoleLog bool   `default:"false" json:"console_log"`                  // human readable rather than JSON logs
	HealthAddr string `default:":7443" json:"health_addr"`                  // bind address of the gRPC health service
	Metrics    string `required:"false" validate:"path" json:"metrics"`     // location to append metrics to on shutdown
	AutoCycles bool   `default:"true" json:"auto_cycles"`                   // schedule recurring elections for every context on start
	SyncNotify bool   `default:"false" json:"sync_notify"`                  // deliver each notification before the operation returns

	// Phase timing
	RegistrationPeriod string `default:"24h" validate:"duration" json:"registration_period"` // length of candidate registration
	VotingPeriod       string `default:"48h" validate:"duration" json:"voting_period"`       // length of the voting window
	ArchiveDelay       string `default:"72h" validate:"duration" json:"archive_delay"`       // how long results are displayed before archival

	// Cycle intervals, measured from the last completed election
	ParliamentInterval   string `default:"720h" validate:"duration" json:"parliament_interval"`
	PresidentialInterval string `default:"720h" validate:"duration" json:"presidential_interval"`
	PartyLeaderInterval  string `default:"336h" validate:"duration" json:"party_leader_interval"`

	// Rules
	Seats           int     `default:"100" validate:"uint" json:"seats"`            // default seat budget of a legislature
	Threshold       float64 `default:"0.05" validate:"ratio" json:"threshold"`      // minimum vote share for representation
	MinParties      int     `default:"2" validate:"uint" json:"min_parties"`        // parties required to elect a legislature
	MinPartyMembers int     `default:"3" validate:"uint" json:"min_party_members"`  // members required to elect a party leader
	TieBreak        string  `default:"random" validate:"tiebreak" json:"tie_break"` // random, admin_decides, or re_election
	MaxRunoffs      int     `default:"1" validate:"uint" json:"max_runoffs"`        // chained run-offs before escalating to admins
	CitizenFallback bool    `default:"true" json:"citizen_fallback"`                // citizens vote when the legislature is empty
}

// Load the configuration from default values, then from a configuration file,
// and finally from the environment. Validate the configuration when loaded.
func (c *Config) Load() error {
	loaders := []multiconfig.Loader{}

	// Read default values defined via tag fields "default"
	loaders = append(loaders, &multiconfig.TagLoader{})

	// Find the config path and the appropriate file loader
	if path, err := c.GetPath(); err == nil {
		if strings.HasSuffix(path, "toml") {
			loaders = append(loaders, &multiconfig.TOMLLoader{Path: path})
		}

		if strings.HasSuffix(path, "json") {
			loaders = append(loaders, &multiconfig.JSONLoader{Path: path})
		}

		if strings.HasSuffix(path, "yml") || strings.HasSuffix(path, "yaml") {
			loaders = append(loaders, &multiconfig.YAMLLoader{Path: path})
		}
	}

	// Load the environment variable loader
	env := &multiconfig.EnvironmentLoader{Prefix: "ELECTIONS", CamelCase: true}
	loaders = append(loaders, env)

	loader := multiconfig.MultiLoader(loaders...)
	if err := loader.Load(c); err != nil {
		return err
	}

	return c.Validate()
}

// Validate the loaded configuration using the multiconfig multi validator.
func (c *Config) Validate() error {
	validators := multiconfig.MultiValidator(
		&multiconfig.RequiredValidator{},
		&ComplexValidator{},
	)

	return validators.Validate(c)
}

// Update the configuration from another configuration struct
func (c *Config) Update(o *Config) error {
	if o == nil {
		return nil
	}

	conf := structs.New(c)

	// Then update the current config with values from the other config
	for _, field := range structs.Fields(o) {
		if !field.IsZero() {
			updateField := conf.Field(field.Name())
			updateField.Set(field.Value())
		}
	}

	return c.Validate()
}

// GetPath searches possible configuration paths returning the first path it
// finds; this path is used when loading the configuration from disk. An
// error is returned if no configuration file exists.
func (c *Config) GetPath() (string, error) {
	// Prepare PATH list
	paths := make([]string, 0, 3)

	// Look in CWD directory first
	if path, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(path, "elections"))
	}

	// Look in user's home directory next
	if user, err := user.Current(); err == nil {
		paths = append(paths, filepath.Join(user.HomeDir, ".elections"))
	}

	// Finally look in etc for the global configuration
	paths = append(paths, "/etc/elections")

	for _, path := range paths {
		for _, ext := range []string{".toml", ".json", ".yml", ".yaml"} {
			fpath := path + ext
			if _, err := os.Stat(fpath); !os.IsNotExist(err) {
				return fpath, nil
			}
		}
	}

	return "", errors.New("no configuration file found")
}

// GetLogLevel parses the log level, defaulting to info.
func (c *Config) GetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Configure the global logger from the log level and console settings.
func (c *Config) Configure() {
	zerolog.SetGlobalLevel(c.GetLogLevel())
	if c.ConsoleLog {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// GetRegistrationPeriod parses the registration duration and returns it.
func (c *Config) GetRegistrationPeriod() (time.Duration, error) {
	return time.ParseDuration(c.RegistrationPeriod)
}

// GetVotingPeriod parses the voting duration and returns it.
func (c *Config) GetVotingPeriod() (time.Duration, error) {
	return time.ParseDuration(c.VotingPeriod)
}

// GetArchiveDelay parses the archive delay and returns it.
func (c *Config) GetArchiveDelay() (time.Duration, error) {
	return time.ParseDuration(c.ArchiveDelay)
}

// GetInterval returns the cycle interval for the election type.
func (c *Config) GetInterval(etype ElectionType) (time.Duration, error) {
	switch etype {
	case Parliamentary:
		return time.ParseDuration(c.ParliamentInterval)
	case Presidential:
		return time.ParseDuration(c.PresidentialInterval)
	case PartyLeader:
		return time.ParseDuration(c.PartyLeaderInterval)
	default:
		return 0, fmt.Errorf("no interval for election type %s", etype)
	}
}

//===========================================================================
// Validators
//===========================================================================

// ComplexValidator validates complex types that multiconfig doesn't understand
type ComplexValidator struct {
	TagName string
}

// Validate implements the multiconfig.Validator interface.
func (v *ComplexValidator) Validate(s interface{}) error {
	if v.TagName == "" {
		v.TagName = "validate"
	}

	for _, field := range structs.Fields(s) {
		if err := v.processField("", field); err != nil {
			return err
		}
	}

	return nil
}

func (v *ComplexValidator) processField(fieldName string, field *structs.Field) error {
	fieldName += field.Name()
	switch field.Kind() {
	case reflect.Struct:
		fieldName += "."
		for _, f := range field.Fields() {
			if err := v.processField(fieldName, f); err != nil {
				return err
			}
		}
	default:
		if field.IsZero() {
			return nil
		}

		switch strings.ToLower(field.Tag(v.TagName)) {
		case "":
			return nil
		case "duration":
			return v.processDurationField(fieldName, field)
		case "url":
			return v.processURLField(fieldName, field)
		case "path":
			return v.processPathField(fieldName, field)
		case "uint":
			return v.processUintField(fieldName, field)
		case "ratio":
			return v.processRatioField(fieldName, field)
		case "tiebreak":
			return v.processTieBreakField(fieldName, field)
		case "loglevel":
			return v.processLogLevelField(fieldName, field)
		default:
			return fmt.Errorf("cannot validate type '%s'", field.Tag(v.TagName))
		}

	}

	return nil
}

func (v *ComplexValidator) processDurationField(fieldName string, field *structs.Field) error {
	d, err := time.ParseDuration(field.Value().(string))
	if err != nil {
		return fmt.Errorf("could not validate %s: %s", fieldName, err.Error())
	}
	if d < 0 {
		return fmt.Errorf("%s cannot be negative", fieldName)
	}
	return nil
}

func (v *ComplexValidator) processURLField(fieldName string, field *structs.Field) error {
	if _, err := url.Parse(field.Value().(string)); err != nil {
		return fmt.Errorf("could not validate %s: %s", fieldName, err.Error())
	}

	return nil
}

func (v *ComplexValidator) processPathField(fieldName string, field *structs.Field) error {
	// No path validation quite yet
	return nil
}

func (v *ComplexValidator) processUintField(fieldName string, field *structs.Field) error {
	val := field.Value().(int)
	if val < 0 {
		return fmt.Errorf("%s is less than zero", fieldName)
	}
	return nil
}

func (v *ComplexValidator) processRatioField(fieldName string, field *structs.Field) error {
	val := field.Value().(float64)
	if val < 0 || val >= 1 {
		return fmt.Errorf("%s must be in the range [0, 1)", fieldName)
	}
	return nil
}

func (v *ComplexValidator) processTieBreakField(fieldName string, field *structs.Field) error {
	switch strings.ToLower(field.Value().(string)) {
	case TieBreakRandom, TieBreakAdminDecides, TieBreakReElection:
		return nil
	default:
		return fmt.Errorf("could not validate %s: %w %q", fieldName, ErrUnknownTieBreak, field.Value())
	}
}

func (v *ComplexValidator) processLogLevelField(fieldName string, field *structs.Field) error {
	if _, err := zerolog.ParseLevel(field.Value().(string)); err != nil {
		return fmt.Errorf("could not validate %s: %s", fieldName, err.Error())
	}
	return nil
}
