package progress

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"kubegems.io/airlock/pkg/storage"
)

// Sink shows one bar per object while the wrapped sink uploads it.
type Sink struct {
	inner storage.Sink
	pool  *mpb.Progress
}

func NewSink(inner storage.Sink, out io.Writer) *Sink {
	return &Sink{
		inner: inner,
		pool:  mpb.New(mpb.WithOutput(out), mpb.WithWidth(40)),
	}
}

func (s *Sink) Put(ctx context.Context, obj storage.Object) error {
	bar := CreateProgressBar(s.pool, path.Base(obj.Key), "uploaded")
	open := obj.Open
	obj.Open = func() (io.ReadCloser, error) {
		rc, err := open()
		if err != nil {
			return nil, err
		}
		return bar.Reader(obj.Size, rc), nil
	}
	if err := s.inner.Put(ctx, obj); err != nil {
		bar.Close()
		return err
	}
	bar.Complete()
	return nil
}

// Wait blocks until every bar has been rendered for the last time.
func (s *Sink) Wait() {
	s.pool.Wait()
}

func CreateProgressBar(pool *mpb.Progress, name string, complete string) ProgressBar {
	bar := pool.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.CountersKibiByte("% .1f / % .1f"), complete),
		),
	)
	return ProgressBar{bar: bar}
}

type ProgressBar struct {
	bar *mpb.Bar
}

// Reader restarts the bar and counts bytes read through r.
func (p ProgressBar) Reader(total int64, r io.ReadCloser) io.ReadCloser {
	p.bar.SetCurrent(0)
	p.bar.SetTotal(total, false)
	p.bar.EnableTriggerComplete()
	return p.bar.ProxyReader(r)
}

func (p ProgressBar) Complete() {
	p.bar.SetTotal(-1, true)
}

func (p ProgressBar) Close() {
	p.bar.Abort(false)
}

// HumanSize formats a byte count with decimal units, e.g. "5.2 MB".
func HumanSize(size int64) string {
	return fmt.Sprintf("% .1f", decor.SizeB1000(size))
}
