package syscallrec

const hostArch = ArchX8664
