package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "agenthub API build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo registers build_info once, sets it to 1 and logs the build.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
	Logger().Info("build_info", zap.String("version", version), zap.String("commit", commit))
}
