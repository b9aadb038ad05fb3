package main

const (
	upgradeAutoMiner  = "autoMiner"
	upgradeSuperClick = "superClick"
)

// chooseUpgrade picks the upgrade a bot buys with the coins in st. The
// clicker strategy prefers superClick, idler prefers autoMiner, and anything
// else buys whichever affordable upgrade is cheaper.
func chooseUpgrade(strategy string, st stateView) (string, bool) {
	affordable := func(kind string) (int64, bool) {
		cost := st.NextUpgradeCost[kind]
		if cost == nil || *cost > st.Coins {
			return 0, false
		}
		return *cost, true
	}

	switch strategy {
	case "clicker":
		return firstAffordable(affordable, upgradeSuperClick, upgradeAutoMiner)
	case "idler":
		return firstAffordable(affordable, upgradeAutoMiner, upgradeSuperClick)
	}

	autoCost, autoOK := affordable(upgradeAutoMiner)
	superCost, superOK := affordable(upgradeSuperClick)
	switch {
	case autoOK && superOK:
		if superCost < autoCost {
			return upgradeSuperClick, true
		}
		return upgradeAutoMiner, true
	case autoOK:
		return upgradeAutoMiner, true
	case superOK:
		return upgradeSuperClick, true
	}
	return "", false
}

func firstAffordable(affordable func(string) (int64, bool), kinds ...string) (string, bool) {
	for _, kind := range kinds {
		if _, ok := affordable(kind); ok {
			return kind, true
		}
	}
	return "", false
}
