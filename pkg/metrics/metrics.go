package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_operations_total",
			Help: "OTP lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	otpStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_store_errors_total",
			Help: "OTP store calls that failed with an infrastructure error",
		},
		[]string{"backend"},
	)

	otpStoreActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otp_store_active",
			Help: "1 for the OTP backend currently serving new operations",
		},
		[]string{"backend"},
	)

	blacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "token_blacklist_entries",
			Help: "Entries held by the in-process token blacklist",
		},
	)

	tokenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rejections_total",
			Help: "Rejected bearer tokens by reason",
		},
		[]string{"reason"},
	)
)

// ObserveOTP counts one OTP operation outcome
func ObserveOTP(operation, outcome string) {
	otpOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveStoreError counts one failed backend call
func ObserveStoreError(backend string) {
	otpStoreErrors.WithLabelValues(backend).Inc()
}

// SetActiveStore flips the active gauge to the given backend
func SetActiveStore(active string, all ...string) {
	for _, b := range all {
		v := 0.0
		if b == active {
			v = 1
		}
		otpStoreActive.WithLabelValues(b).Set(v)
	}
}

// SetBlacklistSize reports the in-process blacklist size
func SetBlacklistSize(n int) {
	blacklistSize.Set(float64(n))
}

// ObserveTokenRejection counts a rejected bearer token
func ObserveTokenRejection(reason string) {
	tokenRejections.WithLabelValues(reason).Inc()
}
