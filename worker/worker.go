// The worker polls the scheduler for orders on a channel and runs them.
package worker

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
)

const defaultSleepFactor = 2

// 10ms * 2^10 ~ 10 seconds between attempts
var maxMultiplier = math.Pow(2, 10)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func NewPool(channel string) *Pool {
	return &Pool{
		Channel: channel,
	}
}

// A Pool contains an array of pollers, all of which reserve orders from the
// same channel.
type Pool struct {
	Pollers                []*Poller
	Channel                string
	receivedShutdownSignal bool
	mu                     sync.Mutex
	wg                     sync.WaitGroup
}

// CreatePool creates a pool of n pollers for the channel and starts them.
// The Executor e is shared between all pollers, so it must be thread safe.
func CreatePool(c *Client, channel, name string, n int, e Executor) (*Pool, error) {
	p := NewPool(channel)
	for i := 0; i < n; i++ {
		if err := p.AddPoller(c, name, e); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type Poller struct {
	Id       int
	Name     string
	QuitChan chan bool
	Client   *Client
	Executor Executor
	// How long to sleep if there is no work to do.
	sleepFactor float64
}

// AddPoller adds a Poller to the Pool and starts its reserve loop. name is
// the worker name recorded on every lease this poller takes.
func (p *Pool) AddPoller(c *Client, name string, e Executor) error {
	if p.receivedShutdownSignal {
		return poolShutdown
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pl := &Poller{
		Id:          len(p.Pollers) + 1,
		Name:        name,
		QuitChan:    make(chan bool, 1),
		Client:      c,
		Executor:    e,
		sleepFactor: defaultSleepFactor,
	}
	p.Pollers = append(p.Pollers, pl)
	p.wg.Add(1)
	go pl.Work(p.Channel, &p.wg)
	return nil
}

var emptyPool = errors.New("No pollers left to remove")
var poolShutdown = errors.New("Cannot add poller because the pool is shutting down")

// RemovePoller removes a poller from the pool and sends that poller a
// shutdown signal.
func (p *Pool) RemovePoller() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Pollers) == 0 {
		return emptyPool
	}
	pl := p.Pollers[0]
	p.Pollers = append(p.Pollers[:0], p.Pollers[1:]...)
	pl.QuitChan <- true
	close(pl.QuitChan)
	return nil
}

// Shutdown all pollers in the pool. In-flight executions run to completion
// and report their results before the poller exits.
func (p *Pool) Shutdown() error {
	p.receivedShutdownSignal = true
	l := len(p.Pollers)
	for i := 0; i < l; i++ {
		err := p.RemovePoller()
		if err != nil {
			return err
		}
	}
	p.wg.Wait()
	return nil
}

// Jitter returns a value that's around the given val, but not exactly it. The
// jitter is randomly chosen between 0.8 and 1.2 times the given value, evenly
// distributed.
func jitter(val float64) float64 {
	return val*0.8 + rand.Float64()*0.2*2*val
}

func (pl *Poller) Work(channel string, wg *sync.WaitGroup) {
	defer wg.Done()
	failedReserveCount := 0
	waitDuration := time.Duration(jitter(float64(500 * time.Millisecond)))
	for {
		select {
		case <-pl.QuitChan:
			log.Printf("%s poller %d quitting\n", channel, pl.Id)
			return

		case <-time.After(waitDuration):
			start := time.Now()
			res, err := pl.Client.Orders.Reserve(channel, pl.Name)
			go metrics.Time("reserve_request.latency", time.Since(start))
			if err == nil {
				failedReserveCount = 0
				waitDuration = time.Duration(0)
				exitCode, output := pl.Executor.Execute(res.Payload)
				if err := pl.Client.Orders.Report(res.UUID, exitCode, output); err != nil {
					log.Printf("worker: Error reporting result for lease %s: %s", res.UUID, err)
					go metrics.Increment(fmt.Sprintf("poll.%s.report_error", channel))
				} else {
					go metrics.Increment(fmt.Sprintf("poll.%s.success", channel))
				}
			} else if err == ErrLostRace {
				// A candidate existed but another poller got it first.
				// Don't sleep at all.
				go metrics.Increment(fmt.Sprintf("poll.%s.nowait", channel))
				failedReserveCount = 0
				waitDuration = time.Duration(0)
			} else {
				if err != ErrNoOrders {
					log.Printf("worker: Error reserving on channel %s: %s", channel, err)
					go metrics.Increment(fmt.Sprintf("poll.%s.error", channel))
				}
				failedReserveCount++
				multiplier := math.Pow(pl.sleepFactor, float64(failedReserveCount))
				if multiplier > maxMultiplier {
					multiplier = maxMultiplier
				}
				multiplier = jitter(multiplier)
				waitDuration = 10 * time.Duration(multiplier) * time.Millisecond
			}
		}
	}
}
