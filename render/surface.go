package render

// Surface is a drawing target owned by exactly one Adapter.
type Surface interface {
	// SetOption replaces the chart with opt.
	SetOption(opt Option)
	// Clear removes any drawn chart.
	Clear()
	ShowLoading()
	HideLoading()
	// Resize re-applies the container's current size to the chart.
	Resize()
	// OnZoom registers fn for user zoom/pan changes. The returned func removes
	// the registration.
	OnZoom(fn func(Zoom)) (remove func())
	// Dispose releases the surface. It is called once.
	Dispose()
}
