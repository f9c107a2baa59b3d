package metrics

import "expvar"

var (
	OffersCreated       = expvar.NewInt("offers_created")
	OfferCreateErrors   = expvar.NewInt("offer_create_errors")
	SalesSkipped        = expvar.NewInt("sales_skipped")
	OffersCanceled      = expvar.NewInt("offers_canceled")
	OffersAccepted      = expvar.NewInt("offers_accepted")
	InventoryFetches    = expvar.NewInt("inventory_remote_fetches")
	InventoryCoalesced  = expvar.NewInt("inventory_coalesced_hits")
	InventoryFallbacks  = expvar.NewInt("inventory_snapshot_fallbacks")
	ConnectorReconnects = expvar.NewInt("connector_reconnects")
	ConnectorErrors     = expvar.NewInt("connector_errors")
	Notifications       = expvar.NewInt("notifications_sent")

	// SkipReasons 按原因统计被跳过的销售
	SkipReasons = expvar.NewMap("sales_skipped_by_reason")
)
