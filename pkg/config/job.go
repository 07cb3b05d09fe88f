package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	gjsonschema "github.com/google/jsonschema-go/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/binlog2sql/pkg/errmodel"
)

// Job is the JSON job file accepted by -config. Keys mirror the flag names
// with underscores; absent keys leave the environment values in place.
type Job struct {
	Host          string   `json:"host,omitempty"`
	Port          int      `json:"port,omitempty"`
	User          string   `json:"user,omitempty"`
	Password      string   `json:"password,omitempty"`
	Databases     []string `json:"databases,omitempty"`
	Tables        []string `json:"tables,omitempty"`
	StartFile     string   `json:"start_file,omitempty"`
	StartPosition uint32   `json:"start_position,omitempty"`
	StopFile      string   `json:"stop_file,omitempty"`
	StopPosition  uint32   `json:"stop_position,omitempty"`
	StartDatetime string   `json:"start_datetime,omitempty"`
	StopDatetime  string   `json:"stop_datetime,omitempty"`
	StopNever     bool     `json:"stop_never,omitempty"`
	Flashback     bool     `json:"flashback,omitempty"`
	OnlyPK        bool     `json:"only_pk,omitempty"`
	NoPK          bool     `json:"no_pk,omitempty"`
	Annotate      bool     `json:"annotate,omitempty"`
	SleepInterval int      `json:"sleep_interval,omitempty"`
	SpoolDir      string   `json:"spool_dir,omitempty"`
	SpoolDSN      string   `json:"spool_dsn,omitempty"`
	ServerID      uint32   `json:"server_id,omitempty"`
}

const jobSchemaURL = "mem://binlog2sql/job.json"

var (
	jobSchemaOnce sync.Once
	jobSchema     *jsonschema.Schema
	jobSchemaErr  error
)

// JobSchema returns the JSON schema of Job, derived from the struct.
func JobSchema() ([]byte, error) {
	s, err := gjsonschema.For[Job](nil)
	if err != nil {
		return nil, err
	}
	// Reject unknown keys so typos do not silently fall back to defaults.
	s.AdditionalProperties = &gjsonschema.Schema{Not: &gjsonschema.Schema{}}
	return json.Marshal(s)
}

func compiledJobSchema() (*jsonschema.Schema, error) {
	jobSchemaOnce.Do(func() {
		raw, err := JobSchema()
		if err != nil {
			jobSchemaErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			jobSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(jobSchemaURL, doc); err != nil {
			jobSchemaErr = err
			return
		}
		jobSchema, jobSchemaErr = c.Compile(jobSchemaURL)
	})
	return jobSchema, jobSchemaErr
}

// ParseJob validates data against the job schema and decodes it.
func ParseJob(data []byte) (Job, error) {
	sch, err := compiledJobSchema()
	if err != nil {
		return Job{}, errmodel.System("job_schema", "compile job schema", nil, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Job{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_job", "job file is not valid JSON", nil, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Job{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_job", "job file does not match schema", nil, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_job", "decode job file", nil, err)
	}
	return job, nil
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_job", fmt.Sprintf("read job file %s", path), nil, err)
	}
	job, err := ParseJob(data)
	if err != nil {
		ce := errmodel.From(err)
		if ce.Context == nil {
			ce.Context = map[string]any{}
		}
		ce.Context["path"] = path
		return Job{}, ce
	}
	return job, nil
}

// apply copies the job's values into cfg unless the flag of the same name
// was set explicitly.
func (j Job) apply(cfg *Config, set map[string]bool) {
	str := func(flag string, dst *string, v string) {
		if v != "" && !set[flag] {
			*dst = v
		}
	}
	num := func(flag string, dst *uint, v uint32) {
		if v != 0 && !set[flag] {
			*dst = uint(v)
		}
	}
	on := func(flag string, dst *bool, v bool) {
		if v && !set[flag] {
			*dst = true
		}
	}
	list := func(flag string, dst *[]string, v []string) {
		if len(v) > 0 && !set[flag] {
			*dst = v
		}
	}

	str("host", &cfg.Host, j.Host)
	if j.Port != 0 && !set["port"] {
		cfg.Port = j.Port
	}
	str("user", &cfg.User, j.User)
	str("password", &cfg.Password, j.Password)
	list("databases", &cfg.Databases, j.Databases)
	list("tables", &cfg.Tables, j.Tables)
	str("start-file", &cfg.StartFile, j.StartFile)
	num("start-position", &cfg.StartPosition, j.StartPosition)
	str("stop-file", &cfg.StopFile, j.StopFile)
	num("stop-position", &cfg.StopPosition, j.StopPosition)
	str("start-datetime", &cfg.StartDatetime, j.StartDatetime)
	str("stop-datetime", &cfg.StopDatetime, j.StopDatetime)
	on("stop-never", &cfg.StopNever, j.StopNever)
	on("flashback", &cfg.Flashback, j.Flashback)
	on("only-pk", &cfg.OnlyPK, j.OnlyPK)
	on("no-pk", &cfg.NoPK, j.NoPK)
	on("annotate", &cfg.Annotate, j.Annotate)
	if j.SleepInterval != 0 && !set["sleep-interval"] {
		cfg.SleepInterval = j.SleepInterval
	}
	str("spool-dir", &cfg.SpoolDir, j.SpoolDir)
	str("spool-dsn", &cfg.SpoolDSN, j.SpoolDSN)
	num("server-id", &cfg.ServerID, j.ServerID)
}
