package interceptor

import (
	"errors"
	"time"

	"github.com/pion/interceptor"

	"github.com/thesyncim/packetrouter/pkg/bwe"
)

// FactoryOption configures the BWEInterceptorFactory.
type FactoryOption func(*BWEInterceptorFactory) error

// BWEInterceptorFactory creates BWEInterceptor instances for each PeerConnection.
// Register this factory with the interceptor registry to enable receiver-side
// bandwidth estimation.
type BWEInterceptorFactory struct {
	config         bwe.BandwidthEstimatorConfig
	reportInterval time.Duration
	observer       BitrateObserver
}

// WithInitialBitrate sets the initial bandwidth estimate.
// Default: 300000 (300 kbps)
func WithInitialBitrate(bitrate int64) FactoryOption {
	return func(f *BWEInterceptorFactory) error {
		f.config.RateControllerConfig.InitialBitrate = bitrate
		return nil
	}
}

// WithMinBitrate sets the minimum bandwidth estimate.
// Default: 10000 (10 kbps)
func WithMinBitrate(bitrate int64) FactoryOption {
	return func(f *BWEInterceptorFactory) error {
		f.config.RateControllerConfig.MinBitrate = bitrate
		return nil
	}
}

// WithMaxBitrate sets the maximum bandwidth estimate.
// Default: 30000000 (30 Mbps)
func WithMaxBitrate(bitrate int64) FactoryOption {
	return func(f *BWEInterceptorFactory) error {
		f.config.RateControllerConfig.MaxBitrate = bitrate
		return nil
	}
}

// WithFactoryReportInterval sets how often the estimate is reported to the
// observer. Default: 1 second
func WithFactoryReportInterval(interval time.Duration) FactoryOption {
	return func(f *BWEInterceptorFactory) error {
		if interval <= 0 {
			return errors.New("report interval must be positive")
		}
		f.reportInterval = interval
		return nil
	}
}

// WithFactoryObserver sets the observer that receives periodic bitrate
// reports from every interceptor the factory creates. A *router.PacketRouter
// can be passed here directly.
func WithFactoryObserver(o BitrateObserver) FactoryOption {
	return func(f *BWEInterceptorFactory) error {
		f.observer = o
		return nil
	}
}

// NewBWEInterceptorFactory creates a new factory for BWEInterceptor instances.
// Configure the factory using FactoryOption functions.
//
// Example:
//
//	factory, err := NewBWEInterceptorFactory(
//	    WithInitialBitrate(500000),
//	    WithFactoryObserver(router),
//	)
//	if err != nil {
//	    return err
//	}
//	registry.Add(factory)
func NewBWEInterceptorFactory(opts ...FactoryOption) (*BWEInterceptorFactory, error) {
	f := &BWEInterceptorFactory{
		config:         bwe.DefaultBandwidthEstimatorConfig(),
		reportInterval: time.Second,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewInterceptor creates a new BWEInterceptor for a PeerConnection.
// This method is called by the interceptor registry when setting up a connection.
func (f *BWEInterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	// Create a new BandwidthEstimator with factory config
	estimator := bwe.NewBandwidthEstimator(f.config, nil)

	// Build options list
	opts := []InterceptorOption{
		WithReportInterval(f.reportInterval),
	}
	if f.observer != nil {
		opts = append(opts, WithObserver(f.observer))
	}

	// Create interceptor with configured options
	i := NewBWEInterceptor(estimator, opts...)

	return i, nil
}
