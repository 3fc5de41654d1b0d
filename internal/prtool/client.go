package prtool

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/runner"
)

// prout-type 5 is Write Exclusive, Registrants Only.
const proutTypeWERO = "5"

// Config selects the tool binary and retry budget for one client.
type Config struct {
	// Command is the tool name, e.g. "sg_persist" or "mpathpersist".
	Command string
	// MaxAttempts bounds unit-attention retries per exchange.
	MaxAttempts int
	Backoff     BackoffConfig
}

// DefaultConfig returns the sg_persist-shaped defaults.
func DefaultConfig() Config {
	return Config{
		Command:     "sg_persist",
		MaxAttempts: 5,
		Backoff:     DefaultBackoff(),
	}
}

// Client issues persistent-reservation exchanges against one device
// through one access path.
type Client struct {
	run    runner.Runner
	device string
	cfg    Config
	rng    *rand.Rand
	log    zerolog.Logger
	sleep  func(time.Duration)
}

// NewClient wires a client to its access path. rng feeds retry jitter
// and may be nil.
func NewClient(run runner.Runner, device string, cfg Config, rng *rand.Rand, log zerolog.Logger) *Client {
	if cfg.Command == "" {
		cfg.Command = "sg_persist"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Client{
		run:    run,
		device: device,
		cfg:    cfg,
		rng:    rng,
		log:    log,
		sleep:  time.Sleep,
	}
}

// Device returns the device path this client exchanges against.
func (c *Client) Device() string {
	return c.device
}

// Register issues PROUT REGISTER. rk zero omits the reservation-key
// parameter (currently unregistered); sark zero unregisters.
func (c *Client) Register(rk, sark pr.Key) error {
	args := []string{"--out", "--register"}
	if rk != 0 {
		args = append(args, "--param-rk="+rk.String())
	}
	args = append(args, "--param-sark="+sark.String(), c.device)
	_, err := c.exchange(args)
	return err
}

// RegisterIgnore issues PROUT REGISTER AND IGNORE EXISTING KEY; the
// reservation-key parameter is always omitted.
func (c *Client) RegisterIgnore(sark pr.Key) error {
	args := []string{"--out", "--register-ignore", "--param-sark=" + sark.String(), c.device}
	_, err := c.exchange(args)
	return err
}

// Reserve issues PROUT RESERVE with the WE-RO type.
func (c *Client) Reserve(rk pr.Key) error {
	args := []string{"--out", "--reserve", "--param-rk=" + rk.String(), "--prout-type=" + proutTypeWERO, c.device}
	_, err := c.exchange(args)
	return err
}

// Release issues PROUT RELEASE with the WE-RO type.
func (c *Client) Release(rk pr.Key) error {
	args := []string{"--out", "--release", "--param-rk=" + rk.String(), "--prout-type=" + proutTypeWERO, c.device}
	_, err := c.exchange(args)
	return err
}

// Clear issues PROUT CLEAR, removing every registration and the
// reservation.
func (c *Client) Clear(rk pr.Key) error {
	args := []string{"--out", "--clear", "--param-rk=" + rk.String(), c.device}
	_, err := c.exchange(args)
	return err
}

// Preempt issues PROUT PREEMPT of victim's registration using rk.
func (c *Client) Preempt(rk, victim pr.Key) error {
	args := []string{
		"--out", "--preempt",
		"--param-rk=" + rk.String(),
		"--param-sark=" + victim.String(),
		"--prout-type=" + proutTypeWERO,
		c.device,
	}
	_, err := c.exchange(args)
	return err
}

// ReadKeys queries and parses the registered key list.
func (c *Client) ReadKeys() ([]pr.Key, error) {
	out, err := c.exchange([]string{"--in", "--read-keys", c.device})
	if err != nil {
		return nil, err
	}
	return ParseKeys(out)
}

// ReadReservation queries and parses the reservation report.
func (c *Client) ReadReservation() (*Reservation, error) {
	out, err := c.exchange([]string{"--in", "--read-reservation", c.device})
	if err != nil {
		return nil, err
	}
	return ParseReservation(out)
}

// ReadStatus combines both read queries into one typed Status.
func (c *Client) ReadStatus() (Status, error) {
	keys, err := c.ReadKeys()
	if err != nil {
		return Status{}, err
	}
	res, err := c.ReadReservation()
	if err != nil {
		return Status{}, err
	}
	return Status{Keys: keys, Reservation: res}, nil
}

// exchange runs one invocation, retrying only unit attentions within
// the configured budget. Every other non-success return is final.
func (c *Client) exchange(args []string) (string, error) {
	var last string
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.run.Run(c.cfg.Command, args...)
		if err != nil {
			return "", fmt.Errorf("%w: %s %s: %v", ErrTool, c.cfg.Command, strings.Join(args, " "), err)
		}
		if res.ExitCode == 0 {
			return string(res.Stdout), nil
		}
		if !isUnitAttention(res.ExitCode, res.Combined()) {
			return "", fmt.Errorf("%w: %s %s: exit %d: %s",
				ErrTool, c.cfg.Command, strings.Join(args, " "), res.ExitCode, res.Combined())
		}

		last = res.Combined()
		delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
		c.log.Warn().
			Int("attempt", attempt).
			Int("max", c.cfg.MaxAttempts).
			Dur("backoff", delay).
			Str("args", strings.Join(args, " ")).
			Msg("unit attention, retrying")
		c.sleep(delay)
	}
	return "", fmt.Errorf("%w: gave up after %d attempts: %s", ErrUnitAttention, c.cfg.MaxAttempts, last)
}
