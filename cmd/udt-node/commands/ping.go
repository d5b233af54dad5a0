package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skycoin/udt/pkg/buffer"
	"github.com/skycoin/udt/pkg/chunk"
	"github.com/skycoin/udt/pkg/udt"
)

// Chunk IDs of a ping record.
const (
	pingRecordID = 1

	pingSeqID     = 1
	pingSentAtID  = 2
	pingPaddingID = 3
)

type pingRecord struct {
	Seq     uint64
	SentAt  time.Time
	Padding string
}

func (p pingRecord) encode() ([]byte, error) {
	w := chunk.NewWriter()
	w.Enter(pingRecordID)
	w.WriteUint(pingSeqID, p.Seq)
	w.WriteInt(pingSentAtID, p.SentAt.UnixNano())
	if p.Padding != "" {
		w.WriteString(pingPaddingID, p.Padding)
	}
	if err := w.Leave(); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// decodePingRecord parses a record, skipping fields it does not know.
func decodePingRecord(b []byte) (pingRecord, error) {
	var p pingRecord

	r := chunk.NewReader(buffer.NewSlice(b))
	obj, _, err := r.Next()
	if err != nil {
		return p, err
	}
	if obj.ID != pingRecordID || obj.Type != chunk.Object {
		return p, errors.Errorf("unexpected chunk %d of type %s", obj.ID, obj.Type)
	}
	if err := r.Enter(); err != nil {
		return p, err
	}
	for {
		c, last, err := r.Next()
		if err != nil {
			return p, err
		}
		switch c.ID {
		case pingSeqID:
			if p.Seq, err = c.Uint(); err != nil {
				return p, err
			}
		case pingSentAtID:
			ns, err := c.Int()
			if err != nil {
				return p, err
			}
			p.SentAt = time.Unix(0, ns)
		case pingPaddingID:
			if p.Padding, err = c.Text(); err != nil {
				return p, err
			}
		}
		if last {
			return p, r.Leave()
		}
	}
}

type pingSummary struct {
	Sent     int
	Received int
	Min      time.Duration
	Max      time.Duration
	Total    time.Duration
}

func (s *pingSummary) add(rtt time.Duration) {
	s.Received++
	s.Total += rtt
	if s.Min == 0 || rtt < s.Min {
		s.Min = rtt
	}
	if rtt > s.Max {
		s.Max = rtt
	}
}

func (s pingSummary) String() string {
	if s.Received == 0 {
		return fmt.Sprintf("%d sent, 0 received", s.Sent)
	}
	return fmt.Sprintf("%d sent, %d received, rtt min/avg/max = %s/%s/%s",
		s.Sent, s.Received, s.Min, s.Total/time.Duration(s.Received), s.Max)
}

type pingOptions struct {
	Count    int
	Interval time.Duration
	Timeout  time.Duration // how long to wait for each echo
	Size     int           // padding bytes per record
}

var pingOpts pingOptions

func init() {
	pingCmd.Flags().IntVarP(&pingOpts.Count, "count", "n", 5, "number of pings to send")
	pingCmd.Flags().DurationVarP(&pingOpts.Interval, "interval", "i", time.Second, "time between pings")
	pingCmd.Flags().DurationVarP(&pingOpts.Timeout, "timeout", "W", 2*time.Second, "time to wait for each echo")
	pingCmd.Flags().IntVarP(&pingOpts.Size, "size", "s", 0, "padding bytes added to each ping")
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping <addr>",
	Short: "Measure round trips to a listener started with --echo",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, err := dial(ctx, args[0], udt.DatagramMode)
		if err != nil {
			return err
		}
		defer c.Close() // nolint: errcheck

		sum, err := ping(ctx, c, pingOpts, os.Stdout)
		fmt.Println(sum)
		return err
	},
}

// ping sends records over a datagram connection and waits for the echo of
// each. Echoes of earlier records that arrive late are reported and skipped.
func ping(ctx context.Context, c *udt.Conn, opts pingOptions, out io.Writer) (pingSummary, error) {
	var sum pingSummary
	buf := make([]byte, c.MaxMessageSize())
	padding := strings.Repeat("x", opts.Size)

	for i := 0; i < opts.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sum, nil
			case <-time.After(opts.Interval):
			}
		}

		seq := uint64(i)
		msg, err := pingRecord{Seq: seq, SentAt: time.Now(), Padding: padding}.encode()
		if err != nil {
			return sum, err
		}
		if _, err := c.Write(msg); err != nil {
			return sum, err
		}
		sum.Sent++

		if err := c.SetReadDeadline(time.Now().Add(opts.Timeout)); err != nil {
			return sum, err
		}
		for {
			n, err := c.Read(buf)
			if err == udt.ErrTimeout {
				fmt.Fprintf(out, "seq=%d timeout\n", seq) // nolint: errcheck
				break
			}
			if err != nil {
				return sum, err
			}
			rec, err := decodePingRecord(buf[:n])
			if err != nil {
				return sum, errors.Wrap(err, "bad echo")
			}
			if rec.Seq != seq {
				fmt.Fprintf(out, "seq=%d late echo ignored\n", rec.Seq) // nolint: errcheck
				continue
			}

			rtt := time.Since(rec.SentAt)
			sum.add(rtt)
			fmt.Fprintf(out, "%d bytes from %s: seq=%d rtt=%s\n", n, c.RemoteAddr(), rec.Seq, rtt) // nolint: errcheck
			break
		}
	}
	return sum, nil
}
