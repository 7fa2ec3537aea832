package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики сервисного слоя
var (
	// operationsTotal — операции над файлами по типу и результату.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hd_operations_total",
		Help: "Общее количество операций над файлами",
	}, []string{"operation", "result"})

	// compensationsTotal — откаты первого шага после сбоя второго.
	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hd_compensations_total",
		Help: "Количество компенсаций двухшаговых операций",
	}, []string{"operation", "result"})

	// uploadedBytesTotal — объём загруженных данных.
	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hd_uploaded_bytes_total",
		Help: "Общий объём загруженных данных в байтах",
	})

	// authAttemptsTotal — попытки аутентификации.
	authAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hd_auth_attempts_total",
		Help: "Попытки регистрации и входа по результату",
	}, []string{"operation", "result"})

	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hd_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hd_reconcile_repairs_total",
		Help: "Исправления, выполненные сверкой, по классу расхождения",
	}, []string{"class"})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hd_reconcile_issues_total",
		Help: "Неустранимые расхождения, обнаруженные сверкой, по классу",
	}, []string{"class"})

	reconcileErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hd_reconcile_errors_total",
		Help: "Пользователи, сверка которых завершилась ошибкой",
	})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hd_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	// filesTotal — количество файлов в реестре по состоянию (по итогам полной сверки).
	filesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hd_files_total",
		Help: "Количество файлов в реестре по состоянию",
	}, []string{"state"})

	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hd_gc_runs_total",
		Help: "Общее количество запусков очистки корзины",
	})

	gcFilesPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hd_gc_files_purged_total",
		Help: "Файлы, удалённые из корзины по сроку хранения",
	})

	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hd_gc_duration_seconds",
		Help:    "Длительность очистки корзины в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// observeOperation учитывает результат операции в метриках.
func observeOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
