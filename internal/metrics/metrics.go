// Package metrics defines the Prometheus collectors for the commerce API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled",
	})

	CouponsRedeemedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupons_redeemed_total",
		Help: "Total number of coupon redemptions",
	})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Total number of checkouts rejected by the conditional stock decrement",
	})

	StockRestoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restore_failures_total",
		Help: "Total number of failed compensating stock restores",
	})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of notification events published, by template",
	}, []string{"template"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Total number of notification publish failures",
	})
)
