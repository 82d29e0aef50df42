package detection

// chipIDEntry describes one STM32 bootloader PID (the 12-bit id returned
// by the GET_ID command), per spec.md §4.6 step 4 and §8's
// "0x0450 decodes as STM32H743 family with 2048 KB flash" boundary case.
type chipIDEntry struct {
	mcu     string
	flashKB int
}

// chipIDTable is hand-maintained from ST's public AN2606/PM0081 bootloader
// PID tables, covering the families spec.md names (F3/F4/F7/H7/G4).
var chipIDTable = map[uint16]chipIDEntry{
	0x0422: {"STM32F303", 256},
	0x0438: {"STM32F303x6/8", 64},
	0x0446: {"STM32F303xD/E", 512},
	0x0431: {"STM32F411", 512},
	0x0413: {"STM32F405/407", 1024},
	0x0419: {"STM32F427/429", 2048},
	0x0421: {"STM32F446", 512},
	0x0449: {"STM32F7x5", 1024},
	0x0451: {"STM32F7x6", 2048},
	0x0450: {"STM32H743", 2048},
	0x0468: {"STM32G431/441", 128},
	0x0469: {"STM32G474", 512},
}

// lookupChipID translates a GET_ID chip id into an MCU family name and
// flash size; unrecognised ids report "unknown" rather than an error so
// detection can still report InBootloader=true.
func lookupChipID(id uint16) (mcu string, flashKB int, known bool) {
	e, ok := chipIDTable[id]
	if !ok {
		return "unknown", 0, false
	}
	return e.mcu, e.flashKB, true
}
