package tv

// TvCtl switches the set to the given channel.
func TvCtl(channel string) string { return "tv:" + channel }

// Brand identifies the manufacturer.
var Brand = "Sony"

// Default is the module entry point.
var Default = TvCtl
