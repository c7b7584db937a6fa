package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	pagesTotal    prometheus.Counter
	pageDuration  prometheus.Histogram
	currentPage   prometheus.Gauge
	itemsTotal    *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	retryWait     *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Crawl runs that resolved their extent and started paging.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Crawl runs that wrote a summary.",
		}),
		pagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_completed_total",
			Help: "Listing pages whose batch finished.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_page_duration_seconds",
			Help:    "Wall time per listing page batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		currentPage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_current_page",
			Help: "Listing page currently being processed.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_items_total",
			Help: "Processed judgments partitioned by outcome.",
		}, []string{"status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_item_duration_seconds",
			Help:    "Time to fetch and persist one judgment.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_retries_total",
			Help: "Fetch retries partitioned by reason.",
		}, []string{"reason"}),
		retryWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_retry_wait_seconds",
			Help:    "Wait before a fetch retry partitioned by reason.",
			Buckets: []float64{1, 2, 4, 8, 16, 30, 60, 120},
		}, []string{"reason"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.pagesTotal,
		s.pageDuration,
		s.currentPage,
		s.itemsTotal,
		s.itemDuration,
		s.retriesTotal,
		s.retryWait,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case events.StageRunStart:
			s.runsStarted.Inc()
		case events.StageRunDone:
			s.runsCompleted.Inc()
		case events.StagePageStart:
			s.currentPage.Set(float64(evt.Page))
		case events.StagePageDone:
			s.pagesTotal.Inc()
			if evt.Dur > 0 {
				s.pageDuration.Observe(evt.Dur.Seconds())
			}
		case events.StageItemDone:
			s.itemsTotal.WithLabelValues(evt.Status).Inc()
			if evt.Dur > 0 {
				s.itemDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
			}
		case events.StageFetchRetry:
			s.retriesTotal.WithLabelValues(evt.Status).Inc()
			s.retryWait.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

// Close implements events.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
