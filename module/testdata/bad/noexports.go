package noexports

func hidden() int { return 1 }
