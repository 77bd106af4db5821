package syscallrec

const hostArch = ArchAarch64
